package klatch

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
)

// Fingerprint returns a stable hex SHA-256 digest of the conversation and
// generation parameters. Each field is length prefixed so that no two
// distinct inputs share an encoding. GenerationConfig.Stream is ignored.
func Fingerprint(turns []Turn, cfg GenerationConfig) string {
	h := sha256.New()

	writeField(h, strconv.Itoa(len(turns)))
	for _, turn := range turns {
		writeField(h, string(turn.Role))
		writeField(h, turn.Content)
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		// folds -0 into 0
		temperature = 0
	}
	writeField(h, cfg.Model)
	writeField(h, strconv.FormatFloat(temperature, 'g', -1, 64))
	writeField(h, strconv.Itoa(cfg.MaxTokens))
	writeField(h, cfg.SystemPrompt)

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(s)))
	h.Write(size[:])
	h.Write([]byte(s))
}

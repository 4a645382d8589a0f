package klatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	defaultMaxLineBytes = 1 << 20
	streamReadSize      = 4096
	doneMarker          = "[DONE]"
)

// DeltaExtractor pulls the content delta and, when present, the usage token
// count out of one frame payload. It returns an error for payloads that are
// not valid JSON; such frames are skipped.
type DeltaExtractor func(payload []byte) (delta string, tokens *int, err error)

// StreamResult summarises a decoded stream.
type StreamResult struct {
	Text       string
	TokenCount *int
	Chunks     int
	// Done is set when the stream ended with the [DONE] marker.
	Done bool
}

// StreamDecoder turns raw SSE bytes into content deltas. Lines may be split
// across writes in any way; an incomplete trailing line is held until the
// rest arrives or Flush is called.
type StreamDecoder struct {
	extract      DeltaExtractor
	onChunk      func(string)
	pending      []byte
	text         strings.Builder
	tokens       *int
	chunks       int
	done         bool
	maxLineBytes int
}

// NewStreamDecoder returns a decoder that reports every non-empty delta to
// onChunk in arrival order. onChunk may be nil.
func NewStreamDecoder(extract DeltaExtractor, onChunk func(string)) *StreamDecoder {
	if extract == nil {
		extract = ExtractDelta
	}
	return &StreamDecoder{
		extract:      extract,
		onChunk:      onChunk,
		maxLineBytes: defaultMaxLineBytes,
	}
}

// Write feeds raw bytes. Bytes after the [DONE] marker are ignored.
func (d *StreamDecoder) Write(p []byte) (int, error) {
	if d.done {
		return len(p), nil
	}
	d.pending = append(d.pending, p...)

	for !d.done {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		d.handleLine(d.pending[:i])
		d.pending = d.pending[i+1:]
	}

	if d.done {
		d.pending = nil
		return len(p), nil
	}
	if len(d.pending) > d.maxLineBytes {
		return len(p), newClientError(ErrorTypeDecode, fmt.Sprintf("stream line exceeds %d bytes", d.maxLineBytes), nil)
	}
	// compact so a long stream does not pin its whole history
	d.pending = append([]byte(nil), d.pending...)
	return len(p), nil
}

// Flush processes a final line that arrived without a newline.
func (d *StreamDecoder) Flush() {
	if len(d.pending) > 0 && !d.done {
		d.handleLine(d.pending)
	}
	d.pending = nil
}

// Done reports whether the [DONE] marker was seen.
func (d *StreamDecoder) Done() bool {
	return d.done
}

// Result returns what has been decoded so far.
func (d *StreamDecoder) Result() StreamResult {
	return StreamResult{
		Text:       d.text.String(),
		TokenCount: d.tokens,
		Chunks:     d.chunks,
		Done:       d.done,
	}
}

func (d *StreamDecoder) handleLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		// blank separators, comments, event:, id: and retry: fields
		return
	}
	payload = bytes.TrimPrefix(payload, []byte{' '})
	if len(payload) == 0 {
		return
	}
	if string(bytes.TrimSpace(payload)) == doneMarker {
		d.done = true
		return
	}

	delta, tokens, err := d.extract(payload)
	if err != nil {
		return
	}
	if tokens != nil {
		d.tokens = tokens
	}
	if delta == "" {
		return
	}
	d.text.WriteString(delta)
	d.chunks++
	if d.onChunk != nil {
		d.onChunk(delta)
	}
}

// DecodeStream reads r to the end or to the [DONE] marker, reporting deltas
// to onChunk. r is always closed. When ctx ends the reader is closed to
// unblock any pending read and a Cancelled error is returned, never a
// truncated result.
func DecodeStream(ctx context.Context, r io.ReadCloser, extract DeltaExtractor, onChunk func(string)) (StreamResult, error) {
	defer r.Close()

	if err := ctx.Err(); err != nil {
		return StreamResult{}, newCancelledError(err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = r.Close()
	})
	defer stop()

	dec := NewStreamDecoder(extract, onChunk)
	buf := make([]byte, streamReadSize)
	for !dec.Done() {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := dec.Write(buf[:n]); err != nil {
				return dec.Result(), err
			}
		}
		if ctx.Err() != nil {
			return dec.Result(), newCancelledError(ctx.Err())
		}
		if errors.Is(readErr, io.EOF) {
			dec.Flush()
			break
		}
		if readErr != nil {
			ce := newClientError(ErrorTypeTransport, "network stream interrupted", readErr)
			return dec.Result(), ce
		}
	}

	if err := ctx.Err(); err != nil {
		return dec.Result(), newCancelledError(err)
	}
	return dec.Result(), nil
}

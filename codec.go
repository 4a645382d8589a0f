package klatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Codec maps conversations to provider payloads and provider payloads back
// to text. Implementations must be pure.
type Codec interface {
	EncodeRequest(turns []Turn, cfg GenerationConfig, stream bool) ([]byte, error)
	DecodeResponse(body []byte) (text string, tokens *int, err error)
	ExtractDelta(payload []byte) (delta string, tokens *int, err error)
}

// OpenAICodec speaks the OpenAI-compatible chat completions format.
type OpenAICodec struct{}

type chatPayload struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type usageBlock struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
	OutputTokens     *int `json:"output_tokens"`
}

func (u *usageBlock) count() *int {
	if u == nil {
		return nil
	}
	if u.TotalTokens != nil {
		return u.TotalTokens
	}
	if u.CompletionTokens != nil {
		return u.CompletionTokens
	}
	return u.OutputTokens
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Delta   chatMessage `json:"delta"`
		Text    string      `json:"text"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// EncodeRequest implements Codec. A non-empty SystemPrompt becomes a leading
// system message.
func (OpenAICodec) EncodeRequest(turns []Turn, cfg GenerationConfig, stream bool) ([]byte, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model must not be empty")
	}

	messages := make([]chatMessage, 0, len(turns)+1)
	if cfg.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: string(RoleSystem), Content: cfg.SystemPrompt})
	}
	for i, turn := range turns {
		if !turn.Role.Valid() {
			return nil, fmt.Errorf("turn %d: unknown role %q", i, turn.Role)
		}
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}

	payload := chatPayload{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: &cfg.Temperature,
		Stream:      stream,
	}
	if cfg.MaxTokens > 0 {
		payload.MaxTokens = &cfg.MaxTokens
	}
	if stream {
		payload.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return json.Marshal(payload)
}

// DecodeResponse implements Codec.
func (OpenAICodec) DecodeResponse(body []byte) (string, *int, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil, newClientError(ErrorTypeDecode, "decode chat completion", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", nil, newClientError(ErrorTypeTerminal, fmt.Sprintf("provider error (%s): %s", resp.Error.Type, resp.Error.Message), nil)
	}
	if len(resp.Choices) == 0 {
		return "", nil, newClientError(ErrorTypeDecode, "chat completion did not include choices", nil)
	}

	choice := resp.Choices[0]
	text := choice.Message.Content
	if text == "" {
		// some providers answer with the streaming shape or the legacy text field
		text = choice.Delta.Content
	}
	if text == "" {
		text = choice.Text
	}
	return text, resp.Usage.count(), nil
}

// ExtractDelta implements Codec.
func (OpenAICodec) ExtractDelta(payload []byte) (string, *int, error) {
	return ExtractDelta(payload)
}

type streamFrame struct {
	Type    string          `json:"type"`
	Delta   json.RawMessage `json:"delta"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text string `json:"text"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage"`
}

// ExtractDelta understands three frame shapes: a bare {"delta": "..."},
// OpenAI chunks with choices[0].delta.content, and Anthropic
// content_block_delta events with delta.text. Usage blocks yield the token
// count.
func ExtractDelta(payload []byte) (string, *int, error) {
	var frame streamFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return "", nil, err
	}

	tokens := frame.Usage.count()

	if len(frame.Choices) > 0 {
		if c := frame.Choices[0].Delta.Content; c != "" {
			return c, tokens, nil
		}
		return frame.Choices[0].Text, tokens, nil
	}

	raw := bytes.TrimSpace(frame.Delta)
	if len(raw) == 0 {
		return "", tokens, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", tokens, err
		}
		return s, tokens, nil
	case '{':
		var block struct {
			Text  string      `json:"text"`
			Usage *usageBlock `json:"usage"`
		}
		if err := json.Unmarshal(raw, &block); err != nil {
			return "", tokens, err
		}
		if tokens == nil {
			tokens = block.Usage.count()
		}
		return block.Text, tokens, nil
	}
	return "", tokens, nil
}

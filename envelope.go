package toolrelay

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentTypeText is the only content item type the relay currently carries.
const ContentTypeText = "text"

// Request is the wire shape of a tool invocation instruction. Producers post it
// to the relay; the worker receives it over the stream or polling channel.
// (Code, Id) is the correlation key; the relay does not enforce Id uniqueness.
type Request struct {
	Code       string                 `json:"code"`
	Id         string                 `json:"id"`
	Tool       string                 `json:"tool"`
	Args       map[string]interface{} `json:"args,omitempty"`
	EnqueuedAt time.Time              `json:"enqueuedAt,omitempty"`
}

// Validate checks the request against the wire contract. The session code form
// is validated separately so callers can distinguish the error class.
func (r *Request) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.Id == "" {
		return fmt.Errorf("id is required")
	}
	if r.Tool == "" {
		return fmt.Errorf("tool is required")
	}
	return nil
}

// Content is a single item of a result bundle.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is an ordered content bundle produced by a tool invocation.
type Result struct {
	Content []Content `json:"content"`
}

// NewTextResult builds a result with one text content item per argument.
func NewTextResult(texts ...string) Result {
	items := make([]Content, 0, len(texts))
	for _, text := range texts {
		items = append(items, Content{Type: ContentTypeText, Text: text})
	}
	return Result{Content: items}
}

// Response is the wire shape of a tool invocation outcome, correlated to the
// originating request by (Code, Id).
type Response struct {
	Code     string    `json:"code"`
	Id       string    `json:"id"`
	Result   Result    `json:"result"`
	PostedAt time.Time `json:"postedAt,omitempty"`
}

// Validate checks the response against the wire contract.
func (r *Response) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.Id == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// ParseRequest decodes a request envelope, ignoring unknown fields to preserve
// forward compatibility.
func ParseRequest(data []byte) (*Request, error) {
	ret := &Request{}
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to parse request envelope: %w", err)
	}
	return ret, nil
}

// ParseResponse decodes a response envelope.
func ParseResponse(data []byte) (*Response, error) {
	ret := &Response{}
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to parse response envelope: %w", err)
	}
	return ret, nil
}

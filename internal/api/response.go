package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Empty reports whether the server returned no payload. A JSON null counts as
// no payload.
func (r *Response) Empty() bool {
	trimmed := bytes.TrimSpace(r.Body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Envelope decodes the body as the backend's standard response wrapper.
func (r *Response) Envelope() (Envelope, error) {
	var env Envelope
	if r.Empty() {
		return env, nil
	}

	if err := json.Unmarshal(r.Body, &env); err != nil {
		return env, fmt.Errorf("decoding response envelope: %w", err)
	}
	return env, nil
}

// Envelope is the `{message, data}` wrapper used by the backend for write
// responses.
type Envelope struct {
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HasData reports whether the envelope carries a non-null data field.
func (e Envelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals raw JSON into a new T.
func Decode[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decoding payload: %w", err)
	}
	return v, nil
}

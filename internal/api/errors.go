package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	StatusCode int

	// Message is the server supplied description of the failure, if any.
	Message string
}

func newStatusError(status int, body []byte) *StatusError {
	return &StatusError{
		StatusCode: status,
		Message:    serverMessage(body),
	}
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Status returns the HTTP status and the message to present for it.
func (e *StatusError) Status() (int, string) {
	if e.Message != "" {
		return e.StatusCode, e.Message
	}
	return e.StatusCode, http.StatusText(e.StatusCode)
}

// ServerMessage returns the message supplied by the server for err, if err
// carries one.
func ServerMessage(err error) (string, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message, true
	}
	return "", false
}

func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

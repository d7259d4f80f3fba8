package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// parseError extracts the message from a FastAPI-style error body. The
// detail is either a plain string or a list of validation entries.
func parseError(status int, body []byte) error {
	fallback := fmt.Sprintf("Request failed with status %d", status)

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return &APIError{Status: status, Message: fallback}
	}

	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
		return &APIError{Status: status, Message: detail}
	}

	var entries []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &entries); err == nil && len(entries) > 0 && entries[0].Msg != "" {
		return &APIError{Status: status, Message: entries[0].Msg}
	}

	return &APIError{Status: status, Message: fallback}
}

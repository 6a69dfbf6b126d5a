package ocr

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ServiceError is a non-2xx answer from an extraction service.
type ServiceError struct {
	Engine     string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "ocr service error"
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return fmt.Sprintf("%s service returned status %d", e.Engine, e.StatusCode)
}

func (e *ServiceError) HTTPStatus() int { return e.StatusCode }

// newServiceError reads the structured {"error":{"message":...}} body when the
// service sent one.
func newServiceError(engine string, resp *http.Response) *ServiceError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ServiceError{
		Engine:     engine,
		StatusCode: resp.StatusCode,
		Message:    structuredErrorMessage(body),
	}
}

func structuredErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.Error.Message)
}

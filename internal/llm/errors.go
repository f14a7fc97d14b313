package llm

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

type ErrorType string

const (
	ErrTypeConfig    ErrorType = "CONFIG"
	ErrTypeNetwork   ErrorType = "NETWORK"
	ErrTypeProvider  ErrorType = "PROVIDER"
	ErrTypeRateLimit ErrorType = "RATE_LIMIT"
	ErrTypeModel     ErrorType = "MODEL"
)

type AIError struct {
	Type      ErrorType
	Code      int
	Message   string
	Model     string
	Operation string
	Cause     error
}

func (e *AIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("AI %s error in %s: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("AI %s error in %s: %s", e.Type, e.Operation, e.Message)
}

func (e *AIError) Unwrap() error { return e.Cause }

func NewConfigError(msg string) *AIError {
	return &AIError{Type: ErrTypeConfig, Message: msg, Operation: "config"}
}

// classify maps a go-openai error onto an AIError.
func classify(operation, model string, err error) *AIError {
	out := &AIError{Type: ErrTypeProvider, Operation: operation, Model: model, Message: "request failed", Cause: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.Code = apiErr.HTTPStatusCode
		out.Message = apiErr.Message
	case errors.As(err, &reqErr):
		out.Code = reqErr.HTTPStatusCode
	default:
		out.Type = ErrTypeNetwork
		return out
	}

	switch {
	case out.Code == http.StatusTooManyRequests:
		out.Type = ErrTypeRateLimit
	case out.Code == http.StatusNotFound:
		out.Type = ErrTypeModel
	case out.Code == http.StatusUnauthorized || out.Code == http.StatusForbidden:
		out.Type = ErrTypeConfig
	}
	return out
}

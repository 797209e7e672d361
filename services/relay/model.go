package relay

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type RequestInfo struct {
	Method  string         `json:"method" validate:"required"`
	Url     string         `json:"url" validate:"required"`
	Payload map[string]any `json:"payload,omitempty"`
	Headers map[string]any `json:"headers,omitempty"`
}

type ResponseInfo struct {
	StatusCode int            `json:"statusCode" validate:"required"`
	Headers    map[string]any `json:"headers,omitempty"`
	Body       any            `json:"body,omitempty"`
}

// LogEntry is a telemetry record sent by a client. ClientIp and CreatedAt
// are only ever set here, never taken from the client.
type LogEntry struct {
	EventType string        `json:"eventType" validate:"required"`
	StudentId string        `json:"studentId,omitempty"`
	StudentNo string        `json:"studentNo,omitempty"`
	Timestamp *time.Time    `json:"timestamp" validate:"required"`
	Request   *RequestInfo  `json:"request" validate:"required"`
	Response  *ResponseInfo `json:"response,omitempty" validate:"omitempty"`
	Error     string        `json:"error,omitempty"`

	ClientIp  string     `json:"clientIp,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

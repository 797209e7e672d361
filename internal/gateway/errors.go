package gateway

import (
	"errors"
	"fmt"
)

const (
	// shown to the user when the platform did not explain a rejection
	DefaultRejectionMessage = "未知错误"
	// shown to the user when no response arrived at all
	NetworkErrorMessage = "网络错误或服务器无响应。"
)

// TransportError means no response was received, this includes timeouts,
// refused connections and TLS failures.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerRejection means a response arrived but it signals failure, either
// through a non-2xx status or through a business code other than "0".
type ServerRejection struct {
	Status int
	// business code from the response envelope, empty for status rejections
	Code    string
	Message string
	// a short description of an html error page, if that is what came back
	Detail string
}

// IsStatus reports whether the rejection came from the http status rather
// than from the response envelope.
func (e *ServerRejection) IsStatus() bool {
	return e.Status != 0 && (e.Status < 200 || e.Status > 299)
}

func (e *ServerRejection) Error() string {
	msg := e.Message
	if msg == "" {
		msg = DefaultRejectionMessage
	}
	if e.Code != "" {
		return fmt.Sprintf("rejected (code %s): %s", e.Code, msg)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

// UserMessage turns an error from a gateway call into a message that can be
// shown as-is to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return NetworkErrorMessage
	}
	var rejection *ServerRejection
	if errors.As(err, &rejection) {
		if rejection.IsStatus() {
			return NetworkErrorMessage
		}
		if rejection.Message == "" {
			return DefaultRejectionMessage
		}
		return rejection.Message
	}
	return err.Error()
}

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"xhbook/lib/htmlutil"
)

// bodies kept in records are cut down to this many characters
const MaxBodyChars = 2000

// RequestRecord is what gets reported about an outgoing request. It never
// carries cookies.
type RequestRecord struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Payload map[string]any    `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type ResponseRecord struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
}

// Reporter receives exactly one report per gateway call. Enabled is asked
// once when the call starts, a call that starts disabled is never reported
// and one that starts enabled always is. Implementations must not block,
// both are called on the request path.
type Reporter interface {
	Enabled() bool
	Report(eventType string, req RequestRecord, res *ResponseRecord, errorMessage string)
}

func recordHeaders(headers http.Header) map[string]string {
	out := map[string]string{}
	for k, values := range headers {
		if strings.Contains(strings.ToLower(k), "cookie") {
			continue
		}
		out[k] = strings.Join(values, ", ")
	}
	return out
}

func recordPayload(body any, query url.Values) map[string]any {
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return map[string]any{"unencodable": err.Error()}
		}
		var out map[string]any
		if json.Unmarshal(encoded, &out) == nil {
			return out
		}
		var value any
		json.Unmarshal(encoded, &value)
		return map[string]any{"body": value}
	}
	if len(query) == 0 {
		return nil
	}
	out := map[string]any{}
	for k := range query {
		out[k] = query.Get(k)
	}
	return out
}

func truncateText(s string) string {
	if utf8.RuneCountInString(s) <= MaxBodyChars {
		return s
	}
	return string([]rune(s)[:MaxBodyChars])
}

func isBinary(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "application/octet-stream")
}

// recordBody decodes the body as json when possible, otherwise it keeps the
// start of the text. Binary bodies are only described.
func recordBody(contentType string, body []byte, raw bool) any {
	if isBinary(contentType) || (raw && !utf8.Valid(body)) {
		if contentType == "" {
			contentType = "unknown type"
		}
		return fmt.Sprintf("<%d bytes of %s>", len(body), contentType)
	}
	var decoded any
	if len(body) > 0 && json.Unmarshal(body, &decoded) == nil {
		return decoded
	}
	return truncateText(string(body))
}

func describeErrorPage(contentType string, body []byte) string {
	if !htmlutil.LooksLikeHTML(contentType, body) {
		return ""
	}
	return htmlutil.Describe(body, 200)
}

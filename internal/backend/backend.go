package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"xhbook/internal/components/telemetry"
	"xhbook/internal/gateway"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.school.starswhere.xyz:44"
	ClientVersion  = "1.1.0"
)

const requestTimeout = 10 * time.Second

// ErrNoRecognition is returned when the OCR relay answered but did not
// produce a code.
var ErrNoRecognition = errors.New("captcha was not recognized")

// LogEntry is one telemetry record as the relay accepts it.
type LogEntry struct {
	EventType string                  `json:"eventType"`
	StudentID string                  `json:"studentId,omitempty"`
	StudentNo string                  `json:"studentNo,omitempty"`
	Timestamp string                  `json:"timestamp"`
	Request   gateway.RequestRecord   `json:"request"`
	Response  *gateway.ResponseRecord `json:"response,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

type VersionCheck struct {
	ShouldUpdate     bool   `json:"shouldUpdate"`
	LatestVersionUrl string `json:"latestVersionUrl,omitempty"`
	ReleaseNote      string `json:"releaseNote,omitempty"`
}

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay %s: %d %s", e.Path, e.Status, e.Body)
}

// Client talks to the relay. Its own requests are not reported as
// telemetry records.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string, tel telemetry.API) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetRetryCount(0)
	client.SetHeader("Content-Type", "application/json")
	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("backend", tel))
	return &Client{client: client}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req := c.client.R().SetContext(ctx).SetBody(body)
	if out != nil {
		req.SetResult(out)
	}
	res, err := req.Post(path)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return &StatusError{Path: path, Status: res.StatusCode(), Body: res.String()}
	}
	return nil
}

func (c *Client) PostLog(ctx context.Context, entry LogEntry) error {
	return c.post(ctx, "/log", entry, nil)
}

type ocrResponse struct {
	Data struct {
		Code string `json:"code"`
	} `json:"data"`
}

// RecognizeCaptcha asks the relay to read the captcha image.
func (c *Client) RecognizeCaptcha(ctx context.Context, image []byte) (string, error) {
	var out ocrResponse
	err := c.post(ctx, "/ocr_captcha", map[string]string{
		"imageBase64": base64.StdEncoding.EncodeToString(image),
	}, &out)
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(out.Data.Code)
	if code == "" {
		return "", ErrNoRecognition
	}
	return code, nil
}

func (c *Client) CheckVersion(ctx context.Context, clientVersion string) (VersionCheck, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var out VersionCheck
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("client_version", clientVersion).
		SetResult(&out).
		Get("/version_check")
	if err != nil {
		return VersionCheck{}, err
	}
	if !res.IsSuccess() {
		return VersionCheck{}, &StatusError{Path: "/version_check", Status: res.StatusCode(), Body: res.String()}
	}
	return out, nil
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"xhbook/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

const DefaultOCREndpoint = "https://ocr.xiaoying.life/v1/school-captcha"

const ocrTimeout = 10 * time.Second

// ErrOCRNotConfigured is returned when no OCR endpoint is set.
var ErrOCRNotConfigured = errors.New("ocr endpoint is not configured")

// OCRError means the OCR provider could not be reached.
type OCRError struct {
	Err error
}

func (e *OCRError) Error() string {
	return "ocr provider unreachable: " + e.Err.Error()
}

func (e *OCRError) Unwrap() error {
	return e.Err
}

type OCRReply struct {
	Status      int
	ContentType string
	Body        []byte
}

// OCRProxy forwards captcha bodies to the OCR provider as they are.
type OCRProxy struct {
	endpoint string
	client   *resty.Client
}

func NewOCRProxy(endpoint string) OCRProxy {
	client := resty.New()
	client.SetRetryCount(0)
	telemetry.InstrumentResty(client, "xhbook/services/relay/ocr")
	return OCRProxy{endpoint: endpoint, client: client}
}

// Forward sends body and relays whatever the provider answered. Any answer,
// including non-2xx ones, is a reply rather than an error.
func (p OCRProxy) Forward(ctx context.Context, body json.RawMessage) (OCRReply, error) {
	if p.endpoint == "" {
		return OCRReply{}, ErrOCRNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, ocrTimeout)
	defer cancel()

	res, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody([]byte(body)).
		Post(p.endpoint)
	if err != nil {
		return OCRReply{}, &OCRError{Err: err}
	}

	contentType := res.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return OCRReply{
		Status:      res.StatusCode(),
		ContentType: contentType,
		Body:        res.Body(),
	}, nil
}

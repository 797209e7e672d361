package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"xhbook/internal/components/telemetry"
	"xhbook/lib/restyutil"
	libtelemetry "xhbook/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const (
	report_gateway_execute = "gateway.execute"
)

const DefaultTimeout = 10 * time.Second

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Call describes a single request to the platform.
type Call struct {
	Method string
	// a path relative to the platform base url, or an absolute url
	URL       string
	EventType string
	// request body, encoded as json
	JSON  any
	Query url.Values
	// path the Referer header points at, relative to the base url
	Referer string
	// extra headers, these take priority over the fixed browser headers
	Headers map[string]string
	Timeout time.Duration
	// Raw marks calls that do not return json (pages, images)
	Raw bool
}

type Options struct {
	BaseURL string
	// cookies for every request are read from and stored into this jar
	Jar      http.CookieJar
	Reporter Reporter
	Tel      telemetry.API

	CloudflareBypass bool
	// when set, every exchange is dumped through it
	DumpOutput restyutil.InstrumentOutput
	// when set, requests open otel spans under this tracer name
	TracerName string
}

// Gateway is the single path every platform request takes. It attaches the
// browser headers and session cookies, captures what was sent and received,
// and reports exactly once per call.
type Gateway struct {
	base     string
	client   *resty.Client
	reporter Reporter
	tel      telemetry.API
}

func New(opts Options) *Gateway {
	base := strings.TrimSuffix(opts.BaseURL, "/")

	client := resty.New()
	client.SetBaseURL(base)
	client.SetRetryCount(0)
	if opts.Jar != nil {
		client.SetCookieJar(opts.Jar)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	if opts.TracerName != "" {
		libtelemetry.InstrumentResty(client, opts.TracerName)
	}
	restyutil.InstrumentClient(client, opts.DumpOutput)

	tel := opts.Tel
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}

	return &Gateway{
		base:     base,
		client:   client,
		reporter: opts.Reporter,
		tel:      telemetry.NewScopedAPI("gateway", tel),
	}
}

func (g *Gateway) BaseURL() string {
	return g.base
}

// headers returns the fixed header set a browser on the platform would send.
//
// Accept-Encoding is left to net/http so that compressed bodies are
// transparently decoded.
func (g *Gateway) headers(referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.8,zh-TW;q=0.7,zh-HK;q=0.5,en-US;q=0.3,en;q=0.2")
	h.Set("Content-Type", "application/json;charset=utf-8")
	h.Set("Origin", g.base)
	h.Set("Connection", "keep-alive")
	h.Set("Referer", g.base+"/"+strings.TrimPrefix(referer, "/"))
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	return h
}

func (g *Gateway) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return g.base + "/" + strings.TrimPrefix(path, "/")
}

// reportFunc decides whether the call gets reported, the decision holds for
// the whole call.
func (g *Gateway) reportFunc() func(eventType string, req RequestRecord, res *ResponseRecord, errorMessage string) {
	if g.reporter == nil || !g.reporter.Enabled() {
		return func(string, RequestRecord, *ResponseRecord, string) {}
	}
	return g.reporter.Report
}

// Execute performs the call. The outcomes are:
//   - no response: nil and a *TransportError
//   - non-2xx response: the response and a *ServerRejection
//   - 2xx response: the response and nil
//
// There are no retries, whatever happened is reported once and returned.
func (g *Gateway) Execute(ctx context.Context, call Call) (*resty.Response, error) {
	report := g.reportFunc()

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := g.resolve(call.URL)

	headers := g.headers(call.Referer)
	for k, v := range call.Headers {
		headers.Set(k, v)
	}
	record := RequestRecord{
		Method:  method,
		URL:     target,
		Payload: recordPayload(call.JSON, call.Query),
		Headers: recordHeaders(headers),
	}

	req := g.client.R().SetContext(ctx)
	req.Header = headers
	if call.JSON != nil {
		req.SetBody(call.JSON)
	}
	if len(call.Query) > 0 {
		req.SetQueryParamsFromValues(call.Query)
	}

	res, err := req.Execute(method, target)
	if err != nil {
		terr := &TransportError{Method: method, URL: target, Err: err}
		g.tel.ReportWarning(report_gateway_execute, call.EventType, terr)
		report(call.EventType+"_FAIL", record, nil, err.Error())
		return nil, terr
	}

	contentType := res.Header().Get("Content-Type")
	body := recordBody(contentType, res.Body(), call.Raw)

	if !res.IsSuccess() {
		finalURL := target
		if res.RawResponse != nil && res.RawResponse.Request != nil {
			finalURL = res.RawResponse.Request.URL.String()
		}
		message := fmt.Sprintf(
			"%d %s for url: %s",
			res.StatusCode(), http.StatusText(res.StatusCode()), finalURL,
		)
		rejection := &ServerRejection{
			Status:  res.StatusCode(),
			Message: message,
			Detail:  describeErrorPage(contentType, res.Body()),
		}
		g.tel.ReportWarning(report_gateway_execute, call.EventType, rejection)
		report(call.EventType+"_FAIL", record, &ResponseRecord{
			StatusCode: res.StatusCode(),
			Body:       body,
		}, message)
		return res, rejection
	}

	g.tel.ReportDebug("call succeeded", call.EventType, res.StatusCode())
	report(call.EventType+"_SUCCESS", record, &ResponseRecord{
		StatusCode: res.StatusCode(),
		Headers:    recordHeaders(res.Header()),
		Body:       body,
	}, "")
	return res, nil
}

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"xhbook/internal/components/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type report struct {
	eventType string
	req       RequestRecord
	res       *ResponseRecord
	errMsg    string
}

type recordingReporter struct {
	mutex    sync.Mutex
	reports  []report
	disabled atomic.Bool
}

func (r *recordingReporter) Enabled() bool {
	return !r.disabled.Load()
}

func (r *recordingReporter) Report(eventType string, req RequestRecord, res *ResponseRecord, errorMessage string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, report{eventType, req, res, errorMessage})
}

func (r *recordingReporter) all() []report {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]report(nil), r.reports...)
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *recordingReporter, *httptest.Server, http.CookieJar) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	reporter := &recordingReporter{}
	gw := New(Options{
		BaseURL:  server.URL,
		Jar:      jar,
		Reporter: reporter,
		Tel:      &telemetry.Recorder{},
	})
	return gw, reporter, server, jar
}

func TestExecuteSuccess(t *testing.T) {
	var seen http.Header
	gw, reporter, server, jar := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"0","data":[{"bookID":"b1"}]}`))
	})

	base, _ := url.Parse(server.URL)
	jar.SetCookies(base, []*http.Cookie{{Name: "JSESSIONID", Value: "abc"}})

	res, err := gw.Execute(context.Background(), Call{
		Method:    http.MethodPost,
		URL:       "/api/GetBookList.do",
		EventType: "GET_BOOK_LIST",
		JSON:      map[string]string{"studentID": "42"},
		Referer:   "myBook.do",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())

	require.Equal(t, server.URL+"/myBook.do", seen.Get("Referer"))
	require.Equal(t, server.URL, seen.Get("Origin"))
	require.Equal(t, "same-origin", seen.Get("Sec-Fetch-Site"))
	require.Contains(t, seen.Get("User-Agent"), "Chrome/91")
	require.Contains(t, seen.Get("Cookie"), "JSESSIONID=abc")

	reports := reporter.all()
	require.Len(t, reports, 1)
	got := reports[0]
	require.Equal(t, "GET_BOOK_LIST_SUCCESS", got.eventType)
	require.Empty(t, got.errMsg)
	require.Equal(t, server.URL+"/api/GetBookList.do", got.req.URL)
	require.Equal(t, map[string]any{"studentID": "42"}, got.req.Payload)
	for k := range got.req.Headers {
		require.NotContains(t, strings.ToLower(k), "cookie")
	}
	require.Equal(t, 200, got.res.StatusCode)
	diff := cmp.Diff(map[string]any{
		"code": "0",
		"data": []any{map[string]any{"bookID": "b1"}},
	}, got.res.Body)
	require.Empty(t, diff)
	require.Equal(t, "application/json", got.res.Headers["Content-Type"])
}

func TestExecuteQueryPayload(t *testing.T) {
	gw, reporter, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "13800000000", r.URL.Query().Get("mobile"))
		w.Write([]byte(`{"code":"0"}`))
	})

	_, err := gw.Execute(context.Background(), Call{
		Method:    http.MethodGet,
		URL:       "/api/sendCode.do",
		EventType: "SEND_BIND_PHONE_CODE",
		Query:     url.Values{"mobile": {"13800000000"}},
		Referer:   "setPwd.do",
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"mobile": "13800000000"}, reporter.all()[0].req.Payload)
}

func TestExecuteServerError(t *testing.T) {
	gw, reporter, server, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html><head><title>502 Bad Gateway</title></head><body>" + strings.Repeat("x", 3000) + "</body></html>"))
	})

	res, err := gw.Execute(context.Background(), Call{
		Method:    http.MethodPost,
		URL:       "/api/GetOrderList.do",
		EventType: "GET_ORDER_HISTORY",
	})
	require.NotNil(t, res)

	var rejection *ServerRejection
	require.True(t, errors.As(err, &rejection))
	require.Equal(t, http.StatusBadGateway, rejection.Status)
	require.Equal(t, "502 Bad Gateway", rejection.Detail)

	reports := reporter.all()
	require.Len(t, reports, 1)
	require.Equal(t, "GET_ORDER_HISTORY_FAIL", reports[0].eventType)
	require.Equal(t, "502 Bad Gateway for url: "+server.URL+"/api/GetOrderList.do", reports[0].errMsg)
	require.Equal(t, 502, reports[0].res.StatusCode)
	body, ok := reports[0].res.Body.(string)
	require.True(t, ok)
	require.Len(t, []rune(body), MaxBodyChars)
}

func TestExecuteTransportError(t *testing.T) {
	reporter := &recordingReporter{}
	gw := New(Options{
		BaseURL:  "http://127.0.0.1:1",
		Reporter: reporter,
		Tel:      &telemetry.Recorder{},
	})

	res, err := gw.Execute(context.Background(), Call{
		Method:    http.MethodPost,
		URL:       "/api/StudentLogin.do",
		EventType: "LOGIN",
	})
	require.Nil(t, res)

	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	require.Equal(t, NetworkErrorMessage, UserMessage(err))

	reports := reporter.all()
	require.Len(t, reports, 1)
	require.Equal(t, "LOGIN_FAIL", reports[0].eventType)
	require.Nil(t, reports[0].res)
	require.NotEmpty(t, reports[0].errMsg)
}

func TestExecuteTimeout(t *testing.T) {
	release := make(chan struct{})
	gw, reporter, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, err := gw.Execute(context.Background(), Call{
		Method:    http.MethodPost,
		URL:       "/api/GetStudentInfo.do",
		EventType: "VALIDATE_SESSION",
		Timeout:   50 * time.Millisecond,
	})
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	require.Len(t, reporter.all(), 1)
	require.Equal(t, "VALIDATE_SESSION_FAIL", reporter.all()[0].eventType)
}

func TestExecuteImageBody(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	gw, reporter, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(image)
	})

	res, err := gw.Execute(context.Background(), Call{
		Method:    http.MethodGet,
		URL:       "/api/getVerifyCode.do",
		EventType: "GET_VERIFY_CODE",
		Raw:       true,
	})
	require.NoError(t, err)
	require.Equal(t, image, res.Body())
	require.Equal(t, "<6 bytes of image/png>", reporter.all()[0].res.Body)
}

func TestReportDecisionHoldsForTheCall(t *testing.T) {
	var reporter *recordingReporter
	gw, reporter, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		// flipped while the request is in flight
		reporter.disabled.Store(!reporter.disabled.Load())
		w.Write([]byte(`{"code":"0"}`))
	})
	ctx := context.Background()

	_, err := gw.Execute(ctx, Call{URL: "/a", EventType: "A"})
	require.NoError(t, err)
	require.True(t, reporter.disabled.Load())
	_, err = gw.Execute(ctx, Call{URL: "/b", EventType: "B"})
	require.NoError(t, err)

	reports := reporter.all()
	require.Len(t, reports, 1)
	require.Equal(t, "A_SUCCESS", reports[0].eventType)
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "", UserMessage(nil))
	require.Equal(t, "验证码错误", UserMessage(&ServerRejection{Code: "1", Message: "验证码错误"}))
	require.Equal(t, DefaultRejectionMessage, UserMessage(&ServerRejection{Status: 200, Code: "1"}))
	require.Equal(t, NetworkErrorMessage, UserMessage(&ServerRejection{Status: 500, Message: "500 Internal Server Error for url: x"}))
	require.Equal(t, "other", UserMessage(errors.New("other")))
}

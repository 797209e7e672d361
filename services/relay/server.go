package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"xhbook/services/versiongate"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const HealthMessage = "xhbook relay"

// Logs is where accepted log entries go.
type Logs interface {
	Insert(ctx context.Context, entry LogEntry) (string, error)
}

type Forwarder interface {
	Forward(ctx context.Context, body json.RawMessage) (OCRReply, error)
}

type VersionChecker interface {
	Check(clientVersion string) (versiongate.Result, error)
}

type Options struct {
	Logs     Logs
	OCR      Forwarder
	Versions VersionChecker
	Metrics  *Metrics
	// defaults to time.Now
	Now func() time.Time
}

type Server struct {
	logs     Logs
	ocr      Forwarder
	versions VersionChecker
	metrics  *Metrics
	validate *validator.Validate
	now      func() time.Time
}

func NewServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		logs:     opts.Logs,
		ocr:      opts.OCR,
		versions: opts.Versions,
		metrics:  opts.Metrics,
		validate: newValidator(),
		now:      opts.Now,
	}
}

// Router wires every endpoint and the middleware around them.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	// the stored client ip is always the socket peer, forwarding headers are ignored
	err := r.SetTrustedProxies(nil)
	if err != nil {
		slog.Error("set trusted proxies", "err", err)
	}
	r.Use(gin.Recovery())
	r.Use(RequestId())
	r.Use(AccessLog())
	r.Use(s.metrics.Middleware())

	r.GET("/", s.Health)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.POST("/log", s.PostLog)
	r.POST("/ocr_captcha", s.OCRCaptcha)
	r.GET("/version_check", s.VersionCheck)
	return r
}

func detail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"detail": message})
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": HealthMessage})
}

func (s *Server) PostLog(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || !json.Valid(raw) {
		detail(c, http.StatusBadRequest, "request body is not valid json")
		return
	}

	var entry LogEntry
	err = json.Unmarshal(raw, &entry)
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	err = s.validate.Struct(entry)
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	now := s.now().UTC()
	entry.ClientIp = c.ClientIP()
	entry.CreatedAt = &now

	id, err := s.logs.Insert(c.Request.Context(), entry)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "store log entry", "event_type", entry.EventType, "err", err)
		detail(c, http.StatusInternalServerError, "Internal server error while processing log entry.")
		return
	}
	s.metrics.LogStored()
	slog.DebugContext(c.Request.Context(), "stored log entry", "id", id, "event_type", entry.EventType)

	c.JSON(http.StatusCreated, gin.H{"message": "Log received successfully", "id": id})
}

func (s *Server) OCRCaptcha(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || !json.Valid(raw) {
		s.metrics.OCRForwarded("bad_request")
		detail(c, http.StatusBadRequest, "request body is not valid json")
		return
	}

	reply, err := s.ocr.Forward(c.Request.Context(), raw)
	var unreachable *OCRError
	switch {
	case errors.Is(err, ErrOCRNotConfigured):
		s.metrics.OCRForwarded("unconfigured")
		detail(c, http.StatusServiceUnavailable, err.Error())
		return
	case errors.As(err, &unreachable):
		s.metrics.OCRForwarded("unreachable")
		slog.WarnContext(c.Request.Context(), "forward captcha", "err", err)
		detail(c, http.StatusBadGateway, "OCR service unreachable.")
		return
	case err != nil:
		s.metrics.OCRForwarded("error")
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.OCRForwarded("relayed")
	c.Data(reply.Status, reply.ContentType, reply.Body)
}

func (s *Server) VersionCheck(c *gin.Context) {
	clientVersion, ok := c.GetQuery("client_version")
	if !ok || clientVersion == "" {
		detail(c, http.StatusBadRequest, "client_version is required")
		return
	}

	res, err := s.versions.Check(clientVersion)
	var config *versiongate.ConfigError
	if errors.As(err, &config) {
		slog.ErrorContext(c.Request.Context(), "version check", "err", err)
		detail(c, http.StatusServiceUnavailable, "Version information is unavailable.")
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, res)
}

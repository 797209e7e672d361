package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"xhbook/internal/backend"
	"xhbook/internal/collect"
	"xhbook/internal/components/chrono"
	"xhbook/internal/components/telemetry"
	"xhbook/internal/components/workers"
	"xhbook/internal/gateway"
	"xhbook/internal/session"
	"xhbook/internal/settings"
	"xhbook/internal/shop"
	"xhbook/lib/configutil"
	"xhbook/lib/platforms/xinhua"
	"xhbook/lib/restyutil"
)

const tracerName = "xhbook/cmd/xhbook"

type Config struct {
	PlatformUrl      string         `json:"platform_url"`
	BackendUrl       string         `json:"backend_url"`
	SettingsFile     string         `json:"settings_file"`
	SessionFile      string         `json:"session_file"`
	CloudflareBypass bool           `json:"cloudflare_bypass"`
	DumpHttpDir      string         `json:"dump_http_dir"`
	Workers          workers.Config `json:"workers"`
}

func defaultConfig() Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	dir = filepath.Join(dir, "xhbook")
	return Config{
		PlatformUrl:  xinhua.DefaultBaseURL,
		BackendUrl:   backend.DefaultBaseURL,
		SettingsFile: filepath.Join(dir, "settings.json"),
		SessionFile:  filepath.Join(dir, "session_data.json"),
		Workers:      workers.Config{Workers: 2, BufferSize: 64},
	}
}

func loadConfig(path string) (Config, error) {
	return configutil.ReadOrDefault(path, defaultConfig())
}

// app is everything a command may need, built once per invocation.
type app struct {
	config     Config
	tel        telemetry.API
	settings   *settings.Settings
	session    *session.Session
	store      *session.Store
	backend    *backend.Client
	pool       *workers.Pool
	collector  *collect.Collector
	platform   *xinhua.Client
	controller *session.Controller
	shop       *shop.Shop

	updates     chan backend.VersionCheck
	updateShown bool
}

func newApp(config Config, traced bool) (*app, error) {
	tel := telemetry.SlogAPI{}

	a := &app{
		config:   config,
		tel:      tel,
		settings: settings.Load(config.SettingsFile, tel),
		session:  session.New(),
		backend:  backend.NewClient(config.BackendUrl, tel),
		pool:     workers.New("background", config.Workers, tel),
		updates:  make(chan backend.VersionCheck, 1),
	}

	store, err := session.NewStore(config.SessionFile, config.PlatformUrl)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.store = store

	a.collector = collect.New(a.settings, a.session, a.backend, chrono.StandardImpl{}, a.pool, tel)

	opts := gateway.Options{
		BaseURL:          config.PlatformUrl,
		Jar:              a.session.Jar(),
		Reporter:         a.collector,
		Tel:              tel,
		CloudflareBypass: config.CloudflareBypass,
	}
	if traced {
		opts.TracerName = tracerName
	}
	if config.DumpHttpDir != "" {
		output, err := restyutil.NewFilesystemOutput(config.DumpHttpDir)
		if err != nil {
			return nil, fmt.Errorf("http dump directory: %w", err)
		}
		opts.DumpOutput = output
	}

	a.platform = xinhua.NewClient(gateway.New(opts))
	a.controller = session.NewController(a.session, a.store, a.platform, a.backend, tel)
	a.shop = shop.New(a.platform, a.session, tel)
	return a, nil
}

// checkForUpdates asks the relay about newer versions in the background, the
// answer is only shown if it arrives before the command finishes.
func (a *app) checkForUpdates() {
	a.pool.Submit("version check", func(ctx context.Context) {
		check, err := a.backend.CheckVersion(ctx, backend.ClientVersion)
		if err != nil {
			slog.Debug("version check failed", "err", err)
			return
		}
		a.updates <- check
	})
}

func (a *app) pendingUpdate() (backend.VersionCheck, bool) {
	select {
	case check := <-a.updates:
		return check, check.ShouldUpdate
	default:
		return backend.VersionCheck{}, false
	}
}

// close gives telemetry a moment to drain, then stops the workers.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := a.collector.Flush(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("flush telemetry", "err", err)
	}
	a.pool.Close()
}

var errNotLoggedIn = errors.New("not logged in, run `xhbook login` first")

// restore brings back the saved session, commands that act on the account
// call it first.
func (a *app) restore(ctx context.Context) error {
	state := a.controller.Startup(ctx)
	if state != session.StateLoggedIn {
		return errNotLoggedIn
	}
	return nil
}

// describe turns an error from the platform into something for the user.
func describe(err error) error {
	if err == nil {
		return nil
	}
	slog.Debug("command failed", "err", err)
	if errors.Is(err, session.ErrProfileUnavailable) {
		return session.ErrProfileUnavailable
	}
	return errors.New(gateway.UserMessage(err))
}

// explain is describe for authenticated calls, it also logs out when the
// platform no longer accepts the session.
func (a *app) explain(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if a.controller.HandleCallError(ctx, err) {
		return fmt.Errorf("%w (session expired, run `xhbook login` again)", describe(err))
	}
	return describe(err)
}

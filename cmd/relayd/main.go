package main

import (
	"context"
	"flag"
	"fmt"

	"xhbook/lib/configutil"
	configlibsql "xhbook/lib/configutil/libsql"
	"xhbook/lib/util/serviceutil"
	"xhbook/services/relay"
	"xhbook/services/versiongate"

	"github.com/jmoiron/sqlx"
)

type Config struct {
	Port        int                 `json:"port"`
	Database    configlibsql.Struct `json:"database"`
	OCREndpoint string              `json:"ocr_endpoint"`
	VersionFile string              `json:"version_file"`
}

var defaults = Config{
	Port:        8000,
	Database:    configlibsql.Struct{File: "data/logs.db"},
	OCREndpoint: relay.DefaultOCREndpoint,
	VersionFile: "version.json",
}

// newServer opens and migrates the log store and assembles the relay.
func newServer(ctx context.Context, cfg Config) (*relay.Server, *sqlx.DB, error) {
	conn, err := cfg.Database.OpenDB()
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db := sqlx.NewDb(conn, cfg.Database.Driver())

	store := relay.NewStore(db)
	err = store.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	server := relay.NewServer(relay.Options{
		Logs:     store,
		OCR:      relay.NewOCRProxy(cfg.OCREndpoint),
		Versions: versiongate.NewGate(cfg.VersionFile),
	})
	return server, db, nil
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadOrDefault("config.json5", defaults)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	server, db, err := newServer(ctx, cfg)
	if err != nil {
		serviceutil.Fatal("init relay", err)
	}
	defer db.Close()

	err = serviceutil.StartHttpServer(ctx, cfg.Port, server.Router())
	if err != nil {
		serviceutil.Fatal("serve", err)
	}
}

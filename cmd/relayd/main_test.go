package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	configlibsql "xhbook/lib/configutil/libsql"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	versionFile := filepath.Join(dir, "version.json")
	require.NoError(t, os.WriteFile(versionFile, []byte(`{"latestVersionNumber": "1.1.0"}`), 0644))

	cfg := defaults
	cfg.Database = configlibsql.Struct{File: filepath.Join(dir, "data", "logs.db")}
	cfg.VersionFile = versionFile
	cfg.OCREndpoint = ""

	server, db, err := newServer(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()
	router := server.Router()

	req := httptest.NewRequest(http.MethodPost, "/log", strings.NewReader(
		`{"eventType": "LOGIN_SUCCESS", "timestamp": "2024-09-01T10:00:00Z", "request": {"method": "POST", "url": "https://univ.xinhua.sh.cn/api/StudentLogin.do"}}`,
	))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var count int
	require.NoError(t, db.Get(&count, "select count(*) from logs"))
	require.Equal(t, 1, count)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version_check?client_version=1.1.0", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"shouldUpdate": false}`, w.Body.String())

	// migrating an existing database again is fine
	server, again, err := newServer(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, server)
	again.Close()
}

func TestNewServerNeedsDatabase(t *testing.T) {
	cfg := defaults
	cfg.Database = configlibsql.Struct{}
	_, _, err := newServer(context.Background(), cfg)
	require.Error(t, err)
}

package relay

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"xhbook/lib/testutil"
	"xhbook/services/relay/db"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func sampleEntry() LogEntry {
	ts := time.Date(2024, 9, 1, 2, 3, 4, 0, time.UTC)
	created := ts.Add(time.Second)
	return LogEntry{
		EventType: "LOGIN_SUCCESS",
		StudentNo: "2023001",
		Timestamp: &ts,
		Request:   &RequestInfo{Method: "POST", Url: "https://univ.xinhua.sh.cn/api/StudentLogin.do"},
		Response:  &ResponseInfo{StatusCode: 200, Body: map[string]any{"code": "0"}},
		ClientIp:  "10.0.0.1",
		CreatedAt: &created,
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	store := NewStore(testutil.OpenDB(t, testutil.DBParams{Schema: db.Schema}))
	ctx := context.Background()

	id, err := store.Insert(ctx, sampleEntry())
	require.NoError(t, err)
	require.Len(t, id, 36)

	second, err := store.Insert(ctx, sampleEntry())
	require.NoError(t, err)
	require.NotEqual(t, id, second)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "LOGIN_SUCCESS", got.EventType)
	require.Equal(t, "10.0.0.1", got.ClientIp)
	require.Equal(t, 200, got.Response.StatusCode)
	require.True(t, sampleEntry().Timestamp.Equal(*got.Timestamp))
}

func TestStoreMigrateIsRepeatable(t *testing.T) {
	store := NewStore(testutil.OpenDB(t, testutil.DBParams{}))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))
}

func TestStoreInsertFailure(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(regexp.QuoteMeta("insert into logs")).
		WillReturnError(errors.New("disk I/O error"))

	store := NewStore(sqlx.NewDb(conn, "sqlmock"))
	_, err = store.Insert(context.Background(), sampleEntry())
	require.ErrorContains(t, err, "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

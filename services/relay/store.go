package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"xhbook/services/relay/db"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func init() {
	// sqlx only knows sqlite under the cgo driver's name
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	sqlx.BindDriver("libsql", sqlx.QUESTION)
}

type logRow struct {
	Id        string  `db:"id"`
	EventType string  `db:"event_type"`
	StudentId *string `db:"student_id"`
	StudentNo *string `db:"student_no"`
	Timestamp string  `db:"timestamp"`
	ClientIp  string  `db:"client_ip"`
	CreatedAt string  `db:"created_at"`
	Document  string  `db:"document"`
}

// Store appends log entries, rows are never updated or deleted.
type Store struct {
	db *sqlx.DB
}

func NewStore(database *sqlx.DB) Store {
	return Store{db: database}
}

// Migrate creates the tables if they do not exist yet.
func (s Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Insert stores the entry and returns its generated id.
func (s Store) Insert(ctx context.Context, entry LogEntry) (string, error) {
	document, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	row := logRow{
		Id:        uuid.NewString(),
		EventType: entry.EventType,
		StudentId: optional(entry.StudentId),
		StudentNo: optional(entry.StudentNo),
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
		ClientIp:  entry.ClientIp,
		CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		Document:  string(document),
	}

	const query = `insert into logs
	(id, event_type, student_id, student_no, timestamp, client_ip, created_at, document)
	values (:id, :event_type, :student_id, :student_no, :timestamp, :client_ip, :created_at, :document)`
	_, err = s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return "", fmt.Errorf("insert log: %w", err)
	}
	return row.Id, nil
}

// Get returns the stored document of a log entry.
func (s Store) Get(ctx context.Context, id string) (LogEntry, error) {
	var document string
	err := s.db.GetContext(ctx, &document, s.db.Rebind("select document from logs where id = ?"), id)
	if err != nil {
		return LogEntry{}, err
	}
	var entry LogEntry
	err = json.Unmarshal([]byte(document), &entry)
	return entry, err
}

func (s Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "select count(*) from logs")
	return count, err
}

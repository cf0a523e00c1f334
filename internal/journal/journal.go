package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Journal stores processed inbound messages and outbound delivery statuses
// in a local SQLite file. It implements domain.JournalWriter.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(path string, logger zerolog.Logger) (*Journal, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create journal tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("Журнал сообщений инициализирован")
	return &Journal{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Входящие сообщения после обработки
		`CREATE TABLE IF NOT EXISTS inbound_messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT UNIQUE NOT NULL,
            sender TEXT NOT NULL,
            kind TEXT NOT NULL,
            outcome TEXT NOT NULL,
            received_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Статусы доставки исходящих
		`CREATE TABLE IF NOT EXISTS delivery_statuses (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            recipient_id TEXT NOT NULL,
            status TEXT NOT NULL,
            occurred_at DATETIME NOT NULL,
            recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_inbound_received_at ON inbound_messages(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_sender ON inbound_messages(sender)`,
		`CREATE INDEX IF NOT EXISTS idx_statuses_message_id ON delivery_statuses(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_statuses_occurred_at ON delivery_statuses(occurred_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %v", err)
		}
	}
	return nil
}

// RecordInbound journals a processed inbound message. Duplicate message ids
// are ignored so webhook replays do not error out.
func (j *Journal) RecordInbound(ctx context.Context, messageID, from, kind, outcome string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_messages (message_id, sender, kind, outcome) VALUES (?, ?, ?, ?)`,
		messageID, from, kind, outcome)
	return err
}

// RecordStatus journals a delivery status update for an outbound message.
func (j *Journal) RecordStatus(ctx context.Context, messageID, recipientID, status string, occurredAt time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO delivery_statuses (message_id, recipient_id, status, occurred_at) VALUES (?, ?, ?, ?)`,
		messageID, recipientID, status, occurredAt.UTC())
	return err
}

// InboundRecord is one journaled inbound message.
type InboundRecord struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome"`
	ReceivedAt time.Time `json:"received_at"`
}

// StatusRecord is one journaled delivery status.
type StatusRecord struct {
	MessageID   string    `json:"message_id"`
	RecipientID string    `json:"recipient_id"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Report holds both journal slices for a period.
type Report struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Inbound  []InboundRecord `json:"inbound"`
	Statuses []StatusRecord  `json:"statuses"`
}

// BuildReport loads journal entries for the half-open interval [from, to).
func (j *Journal) BuildReport(ctx context.Context, from, to time.Time) (*Report, error) {
	report := &Report{From: from, To: to}

	rows, err := j.db.QueryContext(ctx,
		`SELECT message_id, sender, kind, outcome, received_at
         FROM inbound_messages
         WHERE received_at >= ? AND received_at < ?
         ORDER BY received_at`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec InboundRecord
		if err := rows.Scan(&rec.MessageID, &rec.Sender, &rec.Kind, &rec.Outcome, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		report.Inbound = append(report.Inbound, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statusRows, err := j.db.QueryContext(ctx,
		`SELECT message_id, recipient_id, status, occurred_at
         FROM delivery_statuses
         WHERE occurred_at >= ? AND occurred_at < ?
         ORDER BY occurred_at`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer statusRows.Close()

	for statusRows.Next() {
		var rec StatusRecord
		if err := statusRows.Scan(&rec.MessageID, &rec.RecipientID, &rec.Status, &rec.OccurredAt); err != nil {
			return nil, err
		}
		report.Statuses = append(report.Statuses, rec)
	}
	if err := statusRows.Err(); err != nil {
		return nil, err
	}

	return report, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

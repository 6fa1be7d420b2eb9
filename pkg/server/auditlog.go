package server

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// AuditLog appends operator and login events to a SQLite table. Writes
// are serialized through a single goroutine so command dispatch never
// blocks on disk.
type AuditLog struct {
	db   *sql.DB
	ch   chan auditEntry
	done chan struct{}
}

type auditEntry struct {
	at     time.Time
	actor  string
	action string
	detail string
}

// OpenAuditLog opens (or creates) the audit database at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("server: open audit log: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS audit (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		at     TEXT NOT NULL,
		actor  TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: init audit log: %w", err)
	}

	a := &AuditLog{
		db:   db,
		ch:   make(chan auditEntry, 256),
		done: make(chan struct{}),
	}
	go a.writer()
	return a, nil
}

// Record queues an audit entry. Drops the entry (with a log line) if the
// queue is full rather than stalling the caller.
func (a *AuditLog) Record(actor, action, detail string) {
	e := auditEntry{at: time.Now().UTC(), actor: actor, action: action, detail: detail}
	select {
	case a.ch <- e:
	default:
		log.Printf("server: audit queue full, dropping %s by %s", action, actor)
	}
}

func (a *AuditLog) writer() {
	defer close(a.done)
	for e := range a.ch {
		_, err := a.db.Exec(
			`INSERT INTO audit (at, actor, action, detail) VALUES (?, ?, ?, ?)`,
			e.at.Format(time.RFC3339Nano), e.actor, e.action, e.detail,
		)
		if err != nil {
			log.Printf("server: audit write: %v", err)
		}
	}
}

// Recent returns the latest n entries, newest first, formatted one per line.
func (a *AuditLog) Recent(n int) ([]string, error) {
	rows, err := a.db.Query(
		`SELECT at, actor, action, detail FROM audit ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("server: audit query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var at, actor, action, detail string
		if err := rows.Scan(&at, &actor, &action, &detail); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s %-16s %-16s %s", at, actor, action, detail))
	}
	return out, rows.Err()
}

// Close drains pending entries and closes the database.
func (a *AuditLog) Close() error {
	close(a.ch)
	<-a.done
	return a.db.Close()
}

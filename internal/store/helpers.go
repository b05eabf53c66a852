package store

import (
	"database/sql"
	"time"
)

const sessionColumns = "title, flow, capture, state, stage, step, message, error_kind, run_id, image_count, created_at, updated_at"

const eventColumns = "id, title, run_id, state, status, stage, step, message, error_kind, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner rowScanner) (*Session, error) {
	var (
		sess       Session
		stage      sql.NullString
		step       sql.NullString
		message    sql.NullString
		errorKind  sql.NullString
		runID      sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&sess.Title,
		&sess.Flow,
		&sess.Capture,
		&sess.State,
		&stage,
		&step,
		&message,
		&errorKind,
		&runID,
		&sess.ImageCount,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	sess.Stage = stage.String
	sess.Step = step.String
	sess.Message = message.String
	sess.ErrorKind = errorKind.String
	sess.RunID = runID.String
	sess.CreatedAt = parseTime(createdRaw)
	sess.UpdatedAt = parseTime(updatedRaw)
	return &sess, nil
}

func scanEvent(scanner rowScanner) (*Event, error) {
	var (
		ev         Event
		runID      sql.NullString
		stage      sql.NullString
		step       sql.NullString
		message    sql.NullString
		errorKind  sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&ev.ID,
		&ev.Title,
		&runID,
		&ev.State,
		&ev.Status,
		&stage,
		&step,
		&message,
		&errorKind,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	ev.RunID = runID.String
	ev.Stage = stage.String
	ev.Step = step.String
	ev.Message = message.String
	ev.ErrorKind = errorKind.String
	ev.CreatedAt = parseTime(createdRaw)
	return &ev, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

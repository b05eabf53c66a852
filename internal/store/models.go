package store

import "time"

// Session is one row of the session registry.
type Session struct {
	Title      string
	Flow       string
	Capture    string
	State      string
	Stage      string
	Step       string
	Message    string
	ErrorKind  string
	RunID      string
	ImageCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Failed reports whether the last recorded event was a failure.
func (s Session) Failed() bool {
	return s.ErrorKind != ""
}

// Event is one recorded status transition.
type Event struct {
	ID        int64
	Title     string
	RunID     string
	State     string
	Status    string
	Stage     string
	Step      string
	Message   string
	ErrorKind string
	CreatedAt time.Time
}

// StateIdle is the state of a session that has never been processed.
const StateIdle = "IDLE"

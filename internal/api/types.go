package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Session describes a session registry entry.
type Session struct {
	Title      string `json:"title"`
	Flow       string `json:"flow"`
	Capture    string `json:"capture"`
	State      string `json:"state"`
	Stage      string `json:"stage,omitempty"`
	Step       string `json:"step,omitempty"`
	Message    string `json:"message,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	RunID      string `json:"runId,omitempty"`
	ImageCount int    `json:"imageCount"`
	Live       bool   `json:"live"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// SessionEvent is one recorded status transition.
type SessionEvent struct {
	RunID     string `json:"runId"`
	State     string `json:"state"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	Step      string `json:"step,omitempty"`
	Message   string `json:"message"`
	ErrorKind string `json:"errorKind,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// QueueStatus summarizes one work queue.
type QueueStatus struct {
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Processed int    `json:"processed"`
	Completed bool   `json:"completed"`
	LastItem  string `json:"lastItem,omitempty"`
	Failure   string `json:"failure,omitempty"`
}

// LiveSession describes a session that is still ingesting images.
type LiveSession struct {
	Title        string       `json:"title"`
	Flow         string       `json:"flow"`
	Capture      string       `json:"capture"`
	Frames       int          `json:"frames"`
	Registration QueueStatus  `json:"registration"`
	Removal      *QueueStatus `json:"removal,omitempty"`
	CreatedAt    string       `json:"createdAt"`
}

// Run describes a reconstruction in progress.
type Run struct {
	ID        string `json:"id"`
	Session   string `json:"session"`
	State     string `json:"state"`
	Stage     string `json:"stage,omitempty"`
	LastError string `json:"lastError,omitempty"`
	StartedAt string `json:"startedAt"`
}

// DependencyStatus captures availability of an external tool.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	StartedAt     string             `json:"startedAt"`
	UptimeSeconds int64              `json:"uptimeSeconds"`
	DatabasePath  string             `json:"databasePath"`
	LockFilePath  string             `json:"lockFilePath"`
	Sessions      []LiveSession      `json:"sessions"`
	Runs          []Run              `json:"runs"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Preflight     []CheckResult      `json:"preflight"`
}

// SessionListResponse wraps the session registry.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// SessionResponse wraps one session with its recent history.
type SessionResponse struct {
	Session Session        `json:"session"`
	Events  []SessionEvent `json:"events"`
}

// ModelStatus reports whether a textured model exists.
type ModelStatus struct {
	Ready bool `json:"ready"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

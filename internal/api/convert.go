package api

import (
	"time"

	"photoscan/internal/deps"
	"photoscan/internal/pipeline"
	"photoscan/internal/preflight"
	"photoscan/internal/store"
	"photoscan/internal/workqueue"
)

// FromStoreSession converts a registry row. live marks sessions the daemon
// is still ingesting.
func FromStoreSession(s *store.Session, live bool) Session {
	if s == nil {
		return Session{}
	}
	return Session{
		Title:      s.Title,
		Flow:       s.Flow,
		Capture:    s.Capture,
		State:      s.State,
		Stage:      s.Stage,
		Step:       s.Step,
		Message:    s.Message,
		ErrorKind:  s.ErrorKind,
		RunID:      s.RunID,
		ImageCount: s.ImageCount,
		Live:       live,
		CreatedAt:  FormatTime(s.CreatedAt),
		UpdatedAt:  FormatTime(s.UpdatedAt),
	}
}

// FromStoreEvent converts a recorded transition.
func FromStoreEvent(e store.Event) SessionEvent {
	return SessionEvent{
		RunID:     e.RunID,
		State:     e.State,
		Status:    e.Status,
		Stage:     e.Stage,
		Step:      e.Step,
		Message:   e.Message,
		ErrorKind: e.ErrorKind,
		CreatedAt: FormatTime(e.CreatedAt),
	}
}

// FromQueueStatus converts a queue summary.
func FromQueueStatus(st workqueue.Status) QueueStatus {
	out := QueueStatus{
		Pending:   st.Pending,
		Running:   st.Running,
		Processed: st.Processed,
		Completed: st.Completed,
		LastItem:  st.LastItem,
	}
	if st.Failure != nil {
		out.Failure = st.Failure.Error()
	}
	return out
}

// FromRun converts a controller run snapshot.
func FromRun(r pipeline.Run) Run {
	out := Run{
		ID:        r.ID,
		Session:   r.SessionTitle,
		State:     string(r.State),
		Stage:     string(r.CurrentStage),
		StartedAt: FormatTime(r.StartedAt),
	}
	if r.LastError != nil {
		out.LastError = r.LastError.Error()
	}
	return out
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}

// FromPreflight converts preflight results.
func FromPreflight(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// ParseTime reads a timestamp produced by this package.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatTime renders t in the API timestamp format; the zero time is empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

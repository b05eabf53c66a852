package pipeline

import (
	"context"
	"time"

	"photoscan/internal/protocol"
	"photoscan/internal/reconstruct"
	"photoscan/internal/store"
	"photoscan/internal/workqueue"
	"photoscan/internal/workspace"
)

// State is a controller state.
type State string

const (
	StateAwaitingImages     State = "AWAITING_IMAGES"
	StateRetrieving         State = "RETRIEVING"
	StateRemovingBackground State = "REMOVING_BACKGROUND"
	StateRegistering        State = "REGISTERING"
	StateDense              State = "DENSE"
	StateCompleted          State = "COMPLETED"
	StateFailed             State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Run is the live state of one controller run.
type Run struct {
	ID           string
	SessionTitle string
	State        State
	CurrentStage protocol.Stage
	LastError    error
	StartedAt    time.Time
}

// Source is the session a run reconstructs. *session.Session satisfies it.
type Source interface {
	Layout() workspace.Layout
	NeedsRemoval() bool
	Incremental() bool
	Registration() workqueue.Status
	// Done is closed when ingestion stops; Err then reports why.
	Done() <-chan struct{}
	Err() error
}

// BatchRunner runs the batch reconstruction. *reconstruct.Runner satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, layout workspace.Layout, mode reconstruct.Mode, sink protocol.Sink) (reconstruct.Result, error)
}

// Recorder persists run progress. *store.Store satisfies it.
type Recorder interface {
	RecordEvent(ctx context.Context, ev store.Event) error
	SetImageCount(ctx context.Context, title string, count int) error
}

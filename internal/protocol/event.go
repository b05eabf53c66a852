package protocol

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Status is the top-level message classification.
type Status string

const (
	StatusConnected   Status = "CONNECTED"
	StatusFoundImages Status = "FOUND IMAGES"
	StatusProcessing  Status = "PROCESSING"
	StatusReceiving   Status = "RECEIVING IMAGES"
	StatusFailed      Status = "FAILED"
	StatusCompleted   Status = "COMPLETED"
)

// Terminal reports whether no further events follow a message with s.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

// Event is one status message. Stage and Step are carried in the metadata
// object on the wire; Fields holds any additional metadata keys.
type Event struct {
	Status  Status
	Stage   Stage
	Step    string
	Message string
	Fields  map[string]any
}

// With returns a copy of e with key set in its metadata.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	maps.Copy(fields, e.Fields)
	fields[key] = value
	e.Fields = fields
	return e
}

// Field returns a metadata value other than stage and step.
func (e Event) Field(key string) (any, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

func (e Event) String() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s %q", e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s/%s %q", e.Status, e.Stage, e.Step, e.Message)
}

type wireEvent struct {
	Status   Status         `json:"status"`
	Metadata map[string]any `json:"metadata"`
	Message  string         `json:"message"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	meta := make(map[string]any, len(e.Fields)+2)
	maps.Copy(meta, e.Fields)
	if e.Stage != "" {
		meta["stage"] = string(e.Stage)
	}
	if e.Step != "" {
		meta["step"] = e.Step
	}
	return json.Marshal(wireEvent{Status: e.Status, Metadata: meta, Message: e.Message})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event{Status: wire.Status, Message: wire.Message}
	for key, value := range wire.Metadata {
		switch key {
		case "stage":
			e.Stage = Stage(fmt.Sprint(value))
		case "step":
			e.Step = fmt.Sprint(value)
		default:
			if e.Fields == nil {
				e.Fields = make(map[string]any)
			}
			e.Fields[key] = value
		}
	}
	return nil
}

// Sink receives status events. Send must not block on the client; delivery
// to a closed connection is silently dropped.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Send(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Tee fans each event out to every non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Send(e)
			}
		}
	})
}

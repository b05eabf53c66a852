package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"photoscan/internal/protocol"
)

func TestMarshalNestsStageAndStepInMetadata(t *testing.T) {
	ev := protocol.Event{
		Status:  protocol.StatusFailed,
		Stage:   protocol.StageFailed,
		Step:    "get-images",
		Message: "ERROR - 'mug' Images folder is empty.",
	}.With("error", "IMAGES_EMPTY")

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire["status"] != "FAILED" || wire["message"] != ev.Message {
		t.Fatalf("unexpected wire object %s", data)
	}
	meta, ok := wire["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata missing in %s", data)
	}
	if meta["stage"] != "0" || meta["step"] != "get-images" || meta["error"] != "IMAGES_EMPTY" {
		t.Fatalf("unexpected metadata %v", meta)
	}
}

func TestMarshalOmitsEmptyStage(t *testing.T) {
	ev := protocol.Event{Status: protocol.StatusConnected, Message: "Ready to receive images."}.With("title", "mug")
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"stage"`) {
		t.Fatalf("did not expect stage key in %s", data)
	}
	if !strings.Contains(string(data), `"title":"mug"`) {
		t.Fatalf("expected title metadata in %s", data)
	}
}

func TestUnmarshalRestoresFields(t *testing.T) {
	raw := `{"status":"RECEIVING IMAGES","metadata":{"title":"mug","count":3},"message":"Received 3 Frames."}`
	var ev protocol.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Status != protocol.StatusReceiving || ev.Stage != "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if count, _ := ev.Field("count"); count != float64(3) {
		t.Fatalf("unexpected count %v", count)
	}
}

func TestWithDoesNotAliasFields(t *testing.T) {
	base := protocol.Event{Status: protocol.StatusProcessing}.With("a", 1)
	derived := base.With("b", 2)
	if _, ok := base.Field("b"); ok {
		t.Fatal("With mutated the original event")
	}
	if _, ok := derived.Field("a"); !ok {
		t.Fatal("With dropped existing fields")
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !protocol.StatusFailed.Terminal() || !protocol.StatusCompleted.Terminal() {
		t.Fatal("FAILED and COMPLETED are terminal")
	}
	if protocol.StatusProcessing.Terminal() {
		t.Fatal("PROCESSING is not terminal")
	}
}

func TestTeeFansOutInOrder(t *testing.T) {
	var got []string
	record := func(tag string) protocol.Sink {
		return protocol.SinkFunc(func(e protocol.Event) { got = append(got, tag+":"+e.Message) })
	}
	protocol.Tee(record("a"), nil, record("b")).Send(protocol.Event{Message: "x"})
	if strings.Join(got, ",") != "a:x,b:x" {
		t.Fatalf("unexpected fan-out %v", got)
	}
}

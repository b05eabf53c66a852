package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"photoscan/internal/api"
	"photoscan/internal/config"
	"photoscan/internal/pipeline"
	"photoscan/internal/protocol"
	"photoscan/internal/reconstruct"
	"photoscan/internal/server"
	"photoscan/internal/services/colmap"
	"photoscan/internal/services/rembg"
	"photoscan/internal/session"
	"photoscan/internal/store"
	"photoscan/internal/testsupport"
	"photoscan/internal/workspace"
)

type batchStub struct{}

func (batchStub) Run(_ context.Context, _ workspace.Layout, _ reconstruct.Mode, sink protocol.Sink) (reconstruct.Result, error) {
	sink.Send(protocol.Event{Status: protocol.StatusProcessing, Stage: protocol.StageTexture, Step: "openMVS", Message: "Texture the mesh"})
	return reconstruct.Result{LastStage: protocol.StageTexture}, nil
}

type fixture struct {
	cfg     *config.Config
	store   *store.Store
	manager *session.Manager
	ts      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	remover, err := rembg.New("rembg", "u2net", rembg.WithExecutor(&testsupport.StubExecutor{}))
	if err != nil {
		t.Fatal(err)
	}
	registrar, err := colmap.New("python3", cfg.Tools.IncrementalScript, colmap.WithExecutor(&testsupport.StubExecutor{}))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	manager, err := session.NewManager(ctx, session.Deps{
		Config:    cfg,
		Remover:   remover,
		Registrar: registrar,
		Registry:  st,
		Now:       func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(manager.Close)

	controller := pipeline.New(batchStub{}, pipeline.Options{
		RemovalPoll:      2 * time.Millisecond,
		RegistrationPoll: 2 * time.Millisecond,
		Recorder:         st,
	})
	srv, err := server.New(server.Options{
		Config:     cfg,
		Manager:    manager,
		Controller: controller,
		Registry:   st,
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{cfg: cfg, store: st, manager: manager, ts: ts}
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.ts.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func (f *fixture) provision(t *testing.T, title string, images int) workspace.Layout {
	t.Helper()
	layout, err := workspace.New(f.cfg.Paths.UploadsDir, title)
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.Provision(); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteImages(t, layout.ImagesDir(), title, images)
	return layout
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var e protocol.Event
	if err := wsjson.Read(ctx, conn, &e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return e
}

func frame() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff, 0xe0})
}

func TestScanReceivesFrames(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/scan?title=mug&type=surrounding")

	hello := readEvent(t, conn)
	title, _ := hello.Field("title")
	if hello.Status != protocol.StatusConnected || title != "mug2024-05-01T10-00-00.000Z" || hello.Message != "Ready to receive images." {
		t.Fatalf("unexpected greeting %v", hello)
	}

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if err := conn.Write(ctx, websocket.MessageText, []byte(frame())); err != nil {
			t.Fatalf("write frame: %v", err)
		}
		got := readEvent(t, conn)
		count, _ := got.Field("count")
		if got.Status != protocol.StatusReceiving || count != float64(i) {
			t.Fatalf("unexpected reply %v", got)
		}
		if want := "Received " + string(rune('0'+i)) + " Frames."; got.Message != want {
			t.Fatalf("message = %q, want %q", got.Message, want)
		}
	}

	layout, _ := workspace.New(f.cfg.Paths.UploadsDir, "mug2024-05-01T10-00-00.000Z")
	if n, _ := workspace.CountImages(layout.ImagesDir()); n != 2 {
		t.Fatalf("expected two frames on disk, got %d", n)
	}
	if _, err := f.store.Get(ctx, layout.Title()); err != nil {
		t.Fatalf("session should be registered: %v", err)
	}
}

func TestScanSkipsMalformedFrames(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/upload?title=cup")
	readEvent(t, conn)

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not a frame")); err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame())); err != nil {
		t.Fatal(err)
	}
	got := readEvent(t, conn)
	if got.Message != "Received 1 Images." {
		t.Fatalf("malformed frames must not be counted, got %v", got)
	}
}

func TestScanRejectsUnknownCapture(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/scan?title=mug&type=panorama")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestProcessStreamsUntilCompleted(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "vase", 3)
	testsupport.MustCreateSession(t, f.store, "vase", "upload", "surrounding")
	conn := f.dial(t, "/process?title=vase")

	var events []protocol.Event
	for {
		e := readEvent(t, conn)
		events = append(events, e)
		if e.Status.Terminal() {
			break
		}
	}
	last := events[len(events)-1]
	if last.Status != protocol.StatusCompleted || last.Stage != protocol.StageCompleted {
		t.Fatalf("expected completion, got %v", events)
	}
	if events[0].Status != protocol.StatusFoundImages {
		t.Fatalf("first event should report found images, got %v", events[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected a normal close after the terminal event, got %v", err)
	}

	row, err := f.store.Get(context.Background(), "vase")
	if err != nil {
		t.Fatal(err)
	}
	if row.State != string(pipeline.StateCompleted) || row.ImageCount != 3 {
		t.Fatalf("unexpected recorded session %+v", row)
	}
}

func TestProcessMissingSession(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/process?title=ghost")
	e := readEvent(t, conn)
	if e.Status != protocol.StatusFailed || e.Step != "get-images" || e.Message != "ERROR - Images folder with 'ghost' not found." {
		t.Fatalf("unexpected event %v", e)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	layout := f.provision(t, "bowl", 1)

	resp, err := http.Post(f.ts.URL+"/scan/delete/bowl", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if layout.Exists() {
		t.Fatal("session directory should be removed")
	}

	resp, err = http.Post(f.ts.URL+"/upload/delete/.hidden", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid title, got %d", resp.StatusCode)
	}
}

func TestSparseSnapshotAndModelCheck(t *testing.T) {
	f := newFixture(t)
	layout := f.provision(t, "lamp", 1)

	resp, err := http.Post(f.ts.URL+"/process/ongoingply/lamp", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "Cannot find model / yet to create") {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}

	testsupport.WriteFile(t, layout.SparseSnapshotPath(), 16)
	resp, err = http.Get(f.ts.URL + "/process/ongoingply/lamp")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(body) != 16 {
		t.Fatalf("expected the snapshot, got %d with %d bytes", resp.StatusCode, len(body))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "current_sparse.ply") {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}

	check := func() int {
		resp, err := http.Get(f.ts.URL + "/modelview/check/lamp")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}
	if code := check(); code != http.StatusNotFound {
		t.Fatalf("expected 404 before the model exists, got %d", code)
	}
	testsupport.WriteFile(t, layout.MeshPath(), 8)
	testsupport.WriteFile(t, layout.TexturePath(), 8)
	if code := check(); code != http.StatusOK {
		t.Fatalf("expected 200 once the model exists, got %d", code)
	}

	resp, err = http.Get(f.ts.URL + "/modelview/download/lamp")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/zip" {
		t.Fatalf("unexpected archive response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestStatusAndSessions(t *testing.T) {
	f := newFixture(t)
	testsupport.MustCreateSession(t, f.store, "mug", "scan", "subject")

	resp, err := http.Get(f.ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var list api.SessionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(list.Sessions) != 1 || list.Sessions[0].Title != "mug" || list.Sessions[0].Live {
		t.Fatalf("unexpected sessions %#v", list.Sessions)
	}

	resp, err = http.Get(f.ts.URL + "/api/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown session, got %d", resp.StatusCode)
	}

	resp, err = http.Get(f.ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.PID != os.Getpid() || status.DatabasePath != filepath.Join(f.cfg.Paths.StateDir, "photoscan.db") {
		t.Fatalf("unexpected status %#v", status)
	}
}

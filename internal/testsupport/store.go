package testsupport

import (
	"context"
	"testing"

	"photoscan/internal/config"
	"photoscan/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustCreateSession registers a session row for tests.
func MustCreateSession(t testing.TB, st *store.Store, title, flow, capture string) *store.Session {
	t.Helper()

	sess, err := st.Create(context.Background(), store.Session{Title: title, Flow: flow, Capture: capture})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sess
}

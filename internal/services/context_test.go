package services_test

import (
	"context"
	"testing"

	"photoscan/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSession(ctx, "mug2024-01-01T00-00-00.000Z")
	ctx = services.WithStage(ctx, "reconstruction")
	ctx = services.WithRequestID(ctx, "req-123")
	ctx = services.WithRunID(ctx, "run-9")

	if title, ok := services.SessionFromContext(ctx); !ok || title != "mug2024-01-01T00-00-00.000Z" {
		t.Fatalf("unexpected session: %v %v", title, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "reconstruction" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
	if run, ok := services.RunIDFromContext(ctx); !ok || run != "run-9" {
		t.Fatalf("unexpected run id: %v %v", run, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	if got := services.WithStage(ctx, ""); got != ctx {
		t.Fatal("expected blank stage to return the same context")
	}
	if _, ok := services.SessionFromContext(ctx); ok {
		t.Fatal("expected no session on empty context")
	}
}

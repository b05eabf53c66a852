package workspace_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"photoscan/internal/services"
	"photoscan/internal/workspace"
)

func newLayout(t *testing.T, title string) workspace.Layout {
	t.Helper()
	layout, err := workspace.New(t.TempDir(), title)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return layout
}

func TestNewTitle(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 2, 3, 456_000_000, time.UTC)
	if got := workspace.NewTitle("mug", now); got != "mug2024-05-01T10-02-03.456Z" {
		t.Fatalf("NewTitle = %q", got)
	}
	if got := workspace.NewTitle(" ../red vase/ ", now); got != "__red_vase2024-05-01T10-02-03.456Z" {
		t.Fatalf("NewTitle did not sanitize: %q", got)
	}
	if err := workspace.ValidateTitle(workspace.NewTitle("../../etc", now)); err != nil {
		t.Fatalf("sanitized title should validate: %v", err)
	}
}

func TestValidateTitle(t *testing.T) {
	for _, bad := range []string{"", " ", ".", "..", "../x", "a/b", `a\b`, ".hidden"} {
		if err := workspace.ValidateTitle(bad); !errors.Is(err, workspace.ErrInvalidTitle) {
			t.Fatalf("ValidateTitle(%q) = %v", bad, err)
		}
	}
	if err := workspace.ValidateTitle("mug2024-05-01T10-02-03.456Z"); err != nil {
		t.Fatalf("valid title rejected: %v", err)
	}
}

func TestProvisionAndStructure(t *testing.T) {
	layout := newLayout(t, "mug")
	if err := layout.CheckStructure(); !errors.Is(err, services.ErrImagesMissing) {
		t.Fatalf("expected IMAGES_MISSING before provisioning, got %v", err)
	}
	if err := layout.Provision(); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := layout.CheckStructure(); err != nil {
		t.Fatalf("CheckStructure after provisioning: %v", err)
	}
	if !layout.Exists() {
		t.Fatal("expected session dir to exist")
	}
	if filepath.Dir(layout.Dir()) != layout.Root() {
		t.Fatal("session dir must sit directly under root")
	}
}

func TestSaveAndListImages(t *testing.T) {
	layout := newLayout(t, "mug")
	if err := layout.Provision(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"mug-2.jpeg", "mug-1.png"} {
		if _, err := layout.SaveImage(name, []byte("x")); err != nil {
			t.Fatalf("SaveImage(%s): %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(layout.ImagesDir(), "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := layout.SaveImage("../escape.png", nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	names, err := workspace.ListImages(layout.ImagesDir())
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if !slices.Equal(names, []string{"mug-1.png", "mug-2.jpeg"}) {
		t.Fatalf("unexpected images %v", names)
	}
	if _, err := workspace.ListImages(filepath.Join(layout.Dir(), "missing")); services.KindOf(err) != services.KindImagesMissing {
		t.Fatalf("expected IMAGES_MISSING, got %v", err)
	}
}

func TestCleanDenseIsIdempotent(t *testing.T) {
	layout := newLayout(t, "mug")
	if err := os.MkdirAll(filepath.Join(layout.DenseDir(), "0"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(layout.MVSDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	sparse := filepath.Join(layout.OutputDir(), "sparse")
	if err := os.MkdirAll(sparse, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := layout.CleanDense(); err != nil {
			t.Fatalf("CleanDense pass %d: %v", i, err)
		}
	}
	if _, err := os.Stat(layout.DenseDir()); !os.IsNotExist(err) {
		t.Fatal("dense dir should be gone")
	}
	if _, err := os.Stat(sparse); err != nil {
		t.Fatal("sparse model must survive dense cleanup")
	}
}

func TestModelReadyAndSparseSnapshot(t *testing.T) {
	layout := newLayout(t, "mug")
	if layout.ModelReady() {
		t.Fatal("model should not be ready yet")
	}
	if _, err := layout.SparseSnapshot(); !errors.Is(err, services.ErrModelNotFound) {
		t.Fatalf("expected MODEL_NOT_FOUND, got %v", err)
	}

	if err := os.MkdirAll(layout.MVSDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(layout.MeshPath(), []byte("glb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if layout.ModelReady() {
		t.Fatal("mesh without texture is not ready")
	}
	if err := os.WriteFile(layout.TexturePath(), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !layout.ModelReady() {
		t.Fatal("expected model ready")
	}

	if err := os.WriteFile(layout.SparseSnapshotPath(), []byte("ply"), 0o644); err != nil {
		t.Fatal(err)
	}
	if path, err := layout.SparseSnapshot(); err != nil || path != layout.SparseSnapshotPath() {
		t.Fatalf("SparseSnapshot = %q, %v", path, err)
	}
}

func TestRemoveAndList(t *testing.T) {
	root := t.TempDir()
	for _, title := range []string{"a", "b"} {
		layout, _ := workspace.New(root, title)
		if err := layout.Provision(); err != nil {
			t.Fatal(err)
		}
	}
	layouts, err := workspace.List(root)
	if err != nil || len(layouts) != 2 {
		t.Fatalf("List = %v, %v", layouts, err)
	}
	if err := layouts[0].Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if layouts[0].Exists() || !layouts[1].Exists() {
		t.Fatal("Remove must delete only its own session")
	}
	if missing, err := workspace.List(filepath.Join(root, "none")); err != nil || missing != nil {
		t.Fatalf("List on missing root = %v, %v", missing, err)
	}
}

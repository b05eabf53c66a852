package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"photoscan/internal/fileutil"
	"photoscan/internal/services"
)

const (
	ImagesDirName       = "images"
	NoBackgroundDirName = "images_without_bg"
	OutputDirName       = "output"

	sparseSnapshotName = "current_sparse.ply"
	texturedMeshName   = "scene_dense_mesh_refine_texture.glb"
	textureImageName   = "scene_dense_mesh_refine_texture.png"
)

// ErrInvalidTitle reports a title that cannot name a session directory.
var ErrInvalidTitle = errors.New("invalid session title")

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tif", ".tiff"}

// NewTitle builds a unique session title from a user-supplied name and the
// ingestion time, e.g. "mug2024-05-01T10-00-00.000Z".
func NewTitle(name string, now time.Time) string {
	stamp := strings.ReplaceAll(now.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
	return sanitizeName(name) + stamp
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ValidateTitle ensures title names exactly one directory below the root.
func ValidateTitle(title string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return fmt.Errorf("%w: empty", ErrInvalidTitle)
	case title == "." || title == ".." || strings.HasPrefix(title, "."):
		return fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	case strings.ContainsAny(title, `/\`) || strings.ContainsRune(title, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidTitle, title)
	}
	return nil
}

// Layout resolves the paths of one session.
type Layout struct {
	root  string
	title string
}

// New returns the layout for title under root.
func New(root, title string) (Layout, error) {
	if err := ValidateTitle(title); err != nil {
		return Layout{}, err
	}
	if strings.TrimSpace(root) == "" {
		return Layout{}, errors.New("uploads root is required")
	}
	return Layout{root: filepath.Clean(root), title: title}, nil
}

func (l Layout) Title() string { return l.title }

func (l Layout) Root() string { return l.root }

// Dir is the session directory.
func (l Layout) Dir() string { return filepath.Join(l.root, l.title) }

func (l Layout) ImagesDir() string { return filepath.Join(l.Dir(), ImagesDirName) }

func (l Layout) NoBackgroundDir() string { return filepath.Join(l.Dir(), NoBackgroundDirName) }

func (l Layout) OutputDir() string { return filepath.Join(l.Dir(), OutputDirName) }

func (l Layout) DenseDir() string { return filepath.Join(l.OutputDir(), "dense") }

func (l Layout) MVSDir() string { return filepath.Join(l.OutputDir(), "mvs") }

func (l Layout) MeshPath() string { return filepath.Join(l.MVSDir(), texturedMeshName) }

func (l Layout) TexturePath() string { return filepath.Join(l.MVSDir(), textureImageName) }

func (l Layout) SparseSnapshotPath() string { return filepath.Join(l.OutputDir(), sparseSnapshotName) }

// Provision creates the session directory and its image subdirectories.
func (l Layout) Provision() error {
	for _, dir := range []string{l.ImagesDir(), l.NoBackgroundDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("provision %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether the session directory is present.
func (l Layout) Exists() bool {
	info, err := os.Stat(l.Dir())
	return err == nil && info.IsDir()
}

// CheckStructure verifies the session directory and both image
// subdirectories exist.
func (l Layout) CheckStructure() error {
	for _, dir := range []string{l.Dir(), l.ImagesDir(), l.NoBackgroundDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return services.Wrap(services.ErrImagesMissing, "get-images", "stat",
				fmt.Sprintf("images folder with '%s' not found", l.title), err)
		}
	}
	return nil
}

// SaveImage atomically writes data as images/<name>. name must be a bare
// file name.
func (l Layout) SaveImage(name string, data []byte) (string, error) {
	if name != filepath.Base(name) || fileutil.Hidden(name) {
		return "", services.Wrap(services.ErrValidation, "ingest", "save", fmt.Sprintf("bad image name %q", name), nil)
	}
	path := filepath.Join(l.ImagesDir(), name)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return path, nil
}

// Remove deletes the whole session tree.
func (l Layout) Remove() error {
	if err := os.RemoveAll(l.Dir()); err != nil {
		return fmt.Errorf("remove session %s: %w", l.title, err)
	}
	return nil
}

// CleanDense removes dense reconstruction artifacts left by a previous
// attempt. It is idempotent.
func (l Layout) CleanDense() error {
	for _, dir := range []string{l.DenseDir(), l.MVSDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}

// ModelReady reports whether the textured mesh and its texture exist.
func (l Layout) ModelReady() bool {
	for _, path := range []string{l.MeshPath(), l.TexturePath()} {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// SparseSnapshot returns the latest sparse point cloud written by
// incremental registration, or a MODEL_NOT_FOUND error when none exists yet.
func (l Layout) SparseSnapshot() (string, error) {
	path := l.SparseSnapshotPath()
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", services.Wrap(services.ErrModelNotFound, "sparse", "snapshot", "cannot find model / yet to create", err)
	}
	return path, nil
}

// IsImage reports whether name has an image extension.
func IsImage(name string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(name)))
}

// ListImages returns the sorted image file names in dir. A missing directory
// is an IMAGES_MISSING error.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrImagesMissing, "get-images", "list", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || fileutil.Hidden(entry.Name()) || !IsImage(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names, nil
}

// CountImages is len(ListImages(dir)).
func CountImages(dir string) (int, error) {
	names, err := ListImages(dir)
	return len(names), err
}

// List returns the layouts of every session directory under root.
func List(root string) ([]Layout, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	layouts := make([]Layout, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if layout, err := New(root, entry.Name()); err == nil {
			layouts = append(layouts, layout)
		}
	}
	return layouts, nil
}

package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"photoscan/internal/config"
	"photoscan/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// Requirements lists the external tools the configured pipeline needs.
// The daemon and the CLI status command share it.
func Requirements(cfg *config.Config) []deps.Requirement {
	return []deps.Requirement{
		{
			Name:        "Python",
			Command:     cfg.Tools.PythonBinary,
			Description: "Runs the registration and reconstruction scripts",
			Kind:        deps.KindBinary,
		},
		{
			Name:        "Incremental script",
			Command:     cfg.Tools.IncrementalScript,
			Description: "Registers each image into the sparse model",
			Kind:        deps.KindFile,
		},
		{
			Name:        "Batch script",
			Command:     cfg.Tools.BatchScript,
			Description: "Runs the COLMAP/OpenMVS batch pipeline",
			Kind:        deps.KindFile,
		},
		{
			Name:        "rembg",
			Command:     cfg.Tools.RembgBinary,
			Description: "Removes backgrounds for subject captures",
			Kind:        deps.KindBinary,
		},
		{
			Name:        "COLMAP",
			Command:     cfg.Tools.ColmapBinary,
			Description: "Invoked by both scripts",
			Kind:        deps.KindBinary,
			Optional:    true,
		},
	}
}

// CheckSystemDeps evaluates Requirements for cfg.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	return deps.Check(Requirements(cfg))
}

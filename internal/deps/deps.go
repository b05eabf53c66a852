package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Kind selects how a requirement is resolved.
type Kind string

const (
	// KindBinary requirements are looked up on PATH.
	KindBinary Kind = "binary"
	// KindFile requirements name a script that must exist on disk.
	KindFile Kind = "file"
)

// Requirement defines an external tool photoscan shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Kind        Kind
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	// Resolved is the absolute path found for the requirement.
	Resolved string `json:"resolved,omitempty"`
}

// Check evaluates every requirement in order.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

// CheckBinaries evaluates requirements as PATH lookups regardless of Kind.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Kind = KindBinary
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	if req.Kind == KindFile {
		info, err := os.Stat(cmd)
		switch {
		case err != nil:
			status.Detail = fmt.Sprintf("script %q not found", cmd)
		case info.IsDir():
			status.Detail = fmt.Sprintf("script %q is a directory", cmd)
		default:
			status.Available = true
			status.Resolved = cmd
		}
		return status
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		return status
	}
	status.Available = true
	status.Resolved = path
	return status
}

// Missing returns the required entries of statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}

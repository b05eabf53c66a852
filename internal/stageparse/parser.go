package stageparse

import (
	"regexp"
	"slices"

	"photoscan/internal/protocol"
)

const (
	stepColmap         = "colmap"
	stepOpenMVS        = "openMVS"
	stepReconstruction = "reconstruction"
)

type rule struct {
	pattern *regexp.Regexp
	status  protocol.Status
	stage   protocol.Stage
	step    string
	// message is ignored when verbatim is set; the match itself is used.
	message  string
	verbatim bool
}

func processing(expr string, stage protocol.Stage, step, message string) rule {
	return rule{
		pattern: regexp.MustCompile(`(?i)` + expr),
		status:  protocol.StatusProcessing,
		stage:   stage,
		step:    step,
		message: message,
	}
}

func failure(expr, message string) rule {
	return rule{
		pattern: regexp.MustCompile(`(?i)` + expr),
		status:  protocol.StatusFailed,
		stage:   protocol.StageFailed,
		step:    stepReconstruction,
		message: message,
	}
}

// Order matters: the first matching rule wins, so failure markers come first
// and the specific "Colmap Undistorting Images" header precedes the per-image
// counter.
var rules = []rule{
	failure(`failed to create sparse model`, "Failed to create sparse reconstruction"),
	failure(`preparing images for dense reconstruction failed`, "Failed to create dense reconstruction"),

	processing(`colmap feature extraction`, protocol.StageSparse, stepColmap, "Colmap Feature Extraction"),
	processing(`colmap exhaustive matcher`, protocol.StageSparse, stepColmap, "Colmap Exhaustive Matcher"),
	processing(`colmap mapper`, protocol.StageSparse, stepColmap, "Colmap Mapper"),
	processing(`colmap bundle adjuster`, protocol.StageBundleAdjust, stepColmap, "Colmap Bundle Adjuster"),
	processing(`colmap undistorting images`, protocol.StageUndistort, stepColmap, "Undistorting images"),
	{
		pattern:  regexp.MustCompile(`Undistorting image \[\d+/\d+\]`),
		status:   protocol.StatusProcessing,
		stage:    protocol.StageUndistort,
		step:     stepColmap,
		verbatim: true,
	},
	processing(`colmap model converter`, protocol.StageModelConvert, stepColmap, "Colmap Model Converter"),

	processing(`create mvs scene`, protocol.StageMVSScene, stepOpenMVS, "Create MVS scene"),
	processing(`densify point[ -]cloud`, protocol.StageDensify, stepOpenMVS, "Densify point cloud"),
	processing(`estimate disparity-maps`, protocol.StageDensify, stepOpenMVS, "Estimate disparity-maps"),
	processing(`fuse disparity-maps`, protocol.StageDensify, stepOpenMVS, "Fuse disparity-maps"),
	processing(`reconstruct the mesh`, protocol.StageMesh, stepOpenMVS, "Reconstruct the mesh"),
	processing(`refine the mesh`, protocol.StageRefine, stepOpenMVS, "Refine the mesh"),
	processing(`texture the mesh`, protocol.StageTexture, stepOpenMVS, "Texture the mesh"),
}

// Parse maps one line of pipeline output to a status event. The boolean is
// false for lines that match no known stage string.
func Parse(line string) (protocol.Event, bool) {
	if line == "" {
		return protocol.Event{}, false
	}
	for _, r := range rules {
		loc := r.pattern.FindStringIndex(line)
		if loc == nil {
			continue
		}
		message := r.message
		if r.verbatim {
			message = line[loc[0]:loc[1]]
		}
		return protocol.Event{
			Status:  r.status,
			Stage:   r.stage,
			Step:    r.step,
			Message: message,
		}, true
	}
	return protocol.Event{}, false
}

// Stages lists every stage id Parse can produce, in protocol order.
func Stages() []protocol.Stage {
	seen := make(map[protocol.Stage]struct{})
	out := make([]protocol.Stage, 0, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.stage]; dup {
			continue
		}
		seen[r.stage] = struct{}{}
		out = append(out, r.stage)
	}
	slices.SortFunc(out, protocol.CompareStages)
	return out
}

package protocol

import (
	"strconv"
	"strings"
)

// Stage is a decimal progress key such as "3.2".
type Stage string

const (
	StageFailed            Stage = "0"
	StageImagesFound       Stage = "1"
	StageBackgroundRemoval Stage = "2"
	StageSparse            Stage = "3.1"
	StageBundleAdjust      Stage = "3.2"
	StageUndistort         Stage = "3.3"
	StageModelConvert      Stage = "3.4"
	StageMVSScene          Stage = "4"
	StageDensify           Stage = "4.1"
	StageMesh              Stage = "4.2"
	StageRefine            Stage = "4.3"
	StageTexture           Stage = "4.4"
	StageCompleted         Stage = "5"
)

// FinalPipelineStage is the last stage the batch pipeline reports before it
// exits. A run that never reaches it did not produce a textured model.
const FinalPipelineStage = StageTexture

// CompareStages orders two stage ids numerically by major then minor part.
// "4" sorts after "3.4" and before "4.1". Malformed ids sort before every
// valid one.
func CompareStages(a, b Stage) int {
	amaj, amin, aok := a.parts()
	bmaj, bmin, bok := b.parts()
	switch {
	case !aok && !bok:
		return strings.Compare(string(a), string(b))
	case !aok:
		return -1
	case !bok:
		return 1
	}
	if amaj != bmaj {
		return compareInt(amaj, bmaj)
	}
	return compareInt(amin, bmin)
}

// After reports whether s is strictly later than other.
func (s Stage) After(other Stage) bool {
	return CompareStages(s, other) > 0
}

// Valid reports whether s is a well-formed stage id.
func (s Stage) Valid() bool {
	_, _, ok := s.parts()
	return ok
}

func (s Stage) parts() (major, minor int, ok bool) {
	raw := strings.TrimSpace(string(s))
	if raw == "" {
		return 0, 0, false
	}
	majorText, minorText, hasMinor := strings.Cut(raw, ".")
	major, err := strconv.Atoi(majorText)
	if err != nil || major < 0 {
		return 0, 0, false
	}
	if !hasMinor {
		return major, -1, true
	}
	minor, err = strconv.Atoi(minorText)
	if err != nil || minor < 0 {
		return 0, 0, false
	}
	return major, minor, true
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

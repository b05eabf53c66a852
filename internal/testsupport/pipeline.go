package testsupport

import "strings"

// BatchOutput returns representative stdout of a complete batch pipeline run,
// ending with the texturing step.
func BatchOutput() []string {
	return []string{
		"Using input dir /uploads/mug/",
		"0. Colmap Feature Extraction",
		"1. Colmap Exhaustive Matcher",
		"2. Colmap Mapper",
		"3. Colmap Bundle Adjuster",
		"4. Colmap Undistorting Images",
		"Undistorting image [1/3]",
		"Undistorting image [2/3]",
		"Undistorting image [3/3]",
		"5. Colmap Model Converter",
		"6. Create MVS scene",
		"7. Densify point cloud",
		"Estimate disparity-maps completed",
		"Fuse disparity-maps completed",
		"8. Reconstruct the mesh",
		"9. Refine the mesh",
		"10. Texture the mesh",
		"Mesh texturing completed: 1820 vertices",
	}
}

// BatchOutputUntil returns BatchOutput truncated after the first line
// containing last.
func BatchOutputUntil(last string) []string {
	lines := BatchOutput()
	for i, line := range lines {
		if strings.Contains(line, last) {
			return lines[:i+1]
		}
	}
	return lines
}

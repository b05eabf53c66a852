// Package protocol defines the status stream exchanged with scanning and
// processing clients.
//
// Every message is one JSON object:
//
//	{"status": "PROCESSING", "metadata": {"stage": "4.2", "step": "openMVS"}, "message": "Reconstruct the mesh"}
//
// Stage ids are decimal strings with a total order (see CompareStages) that
// clients use to position progress bars: 0 failed, 1 images found, 2
// background removal, 3.x COLMAP, 4.x OpenMVS, 5 completed.
package protocol

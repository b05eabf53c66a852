// Package services defines shared utilities consumed by the pipeline
// components and the external tool clients.
//
// Key responsibilities:
//   - Context helpers that stamp session titles, stage names, run and
//     correlation identifiers for logging.
//   - Error markers plus the Wrap helper that classify failures into the
//     ErrorKind values reported to clients (REGISTRATION_FAILED,
//     BATCH_PIPELINE_FAILED, ...).
//   - The Executor abstraction that makes subprocess execution and output
//     streaming from COLMAP, OpenMVS and rembg testable.
//
// Tool clients live in subpackages (services/rembg, services/colmap) and accept
// an Executor so tests can replay canned output without spawning processes.
package services

package ffmpeg

import "time"

// Backend constants.
const (
	// BackendName is the name used when registering with the backend registry.
	BackendName = "ffmpeg"

	// DefaultBinary is resolved from PATH when no binary or artifact is configured.
	DefaultBinary = "ffmpeg"

	// workspacePrefix names the per-instance staging directory.
	workspacePrefix = "stillreel-engine-"

	// artifactFileName is the installed name of a downloaded engine binary.
	artifactFileName = "ffmpeg"

	// versionPrefix starts the first line of "ffmpeg -version" output.
	versionPrefix = "ffmpeg version"

	// verifyTimeout bounds the post-load self-check.
	verifyTimeout = 15 * time.Second

	// lockRetryDelay is the polling interval while waiting for the artifact lock.
	lockRetryDelay = 250 * time.Millisecond

	// stderrTailLines is how many diagnostic lines are kept for error messages.
	stderrTailLines = 20

	// maxScannerBuffer caps a single line of ffmpeg output.
	maxScannerBuffer = 1024 * 1024
)

// progressArgs precede every invocation so progress is machine-readable on
// stdout and stderr carries only diagnostics.
var progressArgs = []string{"-hide_banner", "-nostats", "-progress", "pipe:1"}

// SupportedFormats lists the containers this engine is expected to produce.
var SupportedFormats = []string{"mp4", "webm", "avi"}

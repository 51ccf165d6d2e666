package compose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/staging"
)

// Canvas is the output frame size every image is fitted into.
type Canvas struct {
	Width  int `json:"width" toml:"width"`
	Height int `json:"height" toml:"height"`
}

// DefaultCanvas is a 1080x1920 portrait frame.
var DefaultCanvas = Canvas{Width: 1080, Height: 1920}

// Valid reports whether both dimensions are positive and even, as yuv420p
// requires.
func (c Canvas) Valid() bool {
	return c.Width > 0 && c.Height > 0 && c.Width%2 == 0 && c.Height%2 == 0
}

// Transform is one step of the video filter chain.
type Transform interface {
	Filter() string
}

// FitTransform scales an image down to fit inside the canvas, keeping its
// aspect ratio.
type FitTransform struct {
	Canvas Canvas
}

func (t FitTransform) Filter() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", t.Canvas.Width, t.Canvas.Height)
}

// PadTransform letterboxes a fitted image to the full canvas, centred.
type PadTransform struct {
	Canvas Canvas
}

func (t PadTransform) Filter() string {
	return fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", t.Canvas.Width, t.Canvas.Height)
}

// ComposeTransforms joins transforms into one filter chain.
func ComposeTransforms(transforms ...Transform) string {
	filters := make([]string, 0, len(transforms))
	for _, t := range transforms {
		filters = append(filters, t.Filter())
	}
	return strings.Join(filters, ",")
}

// Plan returns the engine arguments for one job: inputs, then filters, then
// rate and pixel format, then codec and duration flags, then the output name.
// With audio the output is cut to totalDuration and never outlasts the frames.
func Plan(settings model.JobSettings, hasAudio bool, totalDuration float64, canvas Canvas) []string {
	args := []string{"-f", "concat", "-safe", "0", "-i", staging.ScriptName}
	if hasAudio {
		args = append(args, "-i", staging.AudioName)
	}
	args = append(args,
		"-vf", ComposeTransforms(FitTransform{Canvas: canvas}, PadTransform{Canvas: canvas}),
		"-r", strconv.Itoa(settings.FrameRate),
		"-pix_fmt", "yuv420p",
	)
	if hasAudio {
		args = append(args,
			"-c:v", settings.Format.VideoCodec(),
			"-c:a", settings.Format.AudioCodec(),
			"-shortest",
			"-t", formatSeconds(totalDuration),
		)
	}
	return append(args, "-y", staging.OutputName(settings.Format))
}

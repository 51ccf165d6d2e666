package model

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
)

// OutputFormat is the container format of the encoded video.
type OutputFormat string

// Supported output formats.
const (
	FormatMP4  OutputFormat = "mp4"
	FormatWebM OutputFormat = "webm"
	FormatAVI  OutputFormat = "avi"
)

// Formats lists every supported output format.
var Formats = []OutputFormat{FormatMP4, FormatWebM, FormatAVI}

// codecs pairs the video and audio encoders used when a soundtrack is muxed in.
var codecs = map[OutputFormat][2]string{
	FormatMP4:  {"libx264", "aac"},
	FormatWebM: {"libvpx-vp9", "libopus"},
	FormatAVI:  {"mpeg4", "libmp3lame"},
}

// ParseFormat normalizes s and returns the matching OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "."))))
	if !f.Valid() {
		return "", fmt.Errorf("unsupported output format %q: must be one of %v", s, Formats)
	}
	return f, nil
}

// Valid reports whether f is a supported format.
func (f OutputFormat) Valid() bool {
	return slices.Contains(Formats, f)
}

// MIMEType returns the media type of encoded output in this format.
func (f OutputFormat) MIMEType() string {
	return "video/" + string(f)
}

// VideoCodec returns the video encoder selected when audio is present.
func (f OutputFormat) VideoCodec() string {
	return codecs[f][0]
}

// AudioCodec returns the audio encoder selected when audio is present.
func (f OutputFormat) AudioCodec() string {
	return codecs[f][1]
}

// Frame is one still image in the slideshow. Index is its 0-based position;
// the caller's ordering is authoritative.
type Frame struct {
	Index int
	Name  string
	Data  []byte
}

// Ext returns the lower-case file extension of the frame without the dot.
// Missing or non-alphanumeric extensions fall back to png.
func (f Frame) Ext() string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
	if ext == "" {
		return "png"
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "png"
		}
	}
	return ext
}

// AudioTrack is an optional soundtrack trimmed to the length of the frames.
type AudioTrack struct {
	Name string
	Data []byte
}

// JobSettings controls how frames are timed and encoded.
type JobSettings struct {
	DurationPerFrame float64      `json:"duration_per_frame" toml:"duration"`
	FrameRate        int          `json:"frame_rate" toml:"fps"`
	Format           OutputFormat `json:"format" toml:"format"`
}

// Validate checks that every setting is in range.
func (s JobSettings) Validate() error {
	if math.IsNaN(s.DurationPerFrame) || math.IsInf(s.DurationPerFrame, 0) || s.DurationPerFrame <= 0 {
		return errors.New("duration per frame must be a positive number of seconds")
	}
	if s.FrameRate <= 0 {
		return errors.New("frame rate must be positive")
	}
	if !s.Format.Valid() {
		return fmt.Errorf("unsupported output format %q: must be one of %v", s.Format, Formats)
	}
	return nil
}

// TotalDuration returns the length in seconds of a video with frameCount frames.
func (s JobSettings) TotalDuration(frameCount int) float64 {
	return float64(frameCount) * s.DurationPerFrame
}

// JobResult is the encoded video returned by a successful composition.
type JobResult struct {
	Data     []byte
	MIMEType string
}

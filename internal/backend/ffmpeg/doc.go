// Package ffmpeg implements the backend.Backend interface on top of the
// ffmpeg command-line encoder. Its staging namespace is a private working
// directory created on Load, and progress is read from ffmpeg's
// "-progress pipe:1" key/value stream.
package ffmpeg

// Package compose turns an ordered set of still images and an optional
// soundtrack into one encoded video. It builds the engine's timing script
// and argument list, stages every input through a staging session, runs the
// encode while reporting progress, and always releases what it staged.
package compose

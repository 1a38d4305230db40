// Package vad implements an energy-based voice activity segmenter that turns
// a stream of fixed-size audio chunks into complete speech segments.
package vad

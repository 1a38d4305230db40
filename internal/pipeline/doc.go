// Package pipeline turns audio chunks and direction samples into captions.
//
// Producer callbacks never block: chunk work is handed to a single loop
// goroutine that owns the segmenter, and transcription or classification runs
// on a bounded worker pool whose results come back through the loop for gating
// and broadcast.
package pipeline

// Package gate fuses direction sensor samples with audio energy to decide
// whether a caption may be broadcast.
//
// Direction samples and energy updates arrive from producer goroutines while
// the pipeline reads the gate when it emits a caption, so every accessor takes
// the gate lock.
package gate

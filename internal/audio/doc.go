// Package audio provides capture sources, fixed-cadence chunking, RMS energy
// and WAV/FLAC encoding for mono 16-bit audio.
package audio

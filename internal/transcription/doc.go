// Package transcription turns finalized speech segments into text.
//
// Backends implement Transcriber: HTTPClient uploads a WAV or FLAC file to an
// ElevenLabs-compatible speech-to-text endpoint with retries and a
// concurrency limit, WhisperCLI runs a local whisper.cpp binary, Google calls
// Cloud Speech-to-Text and Static returns a fixed reply. Safe wraps any of
// them so that failures surface as sentinel strings instead of errors.
package transcription

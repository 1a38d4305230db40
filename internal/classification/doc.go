// Package classification labels non-speech audio chunks with a sound event.
package classification

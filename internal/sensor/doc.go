// Package sensor reads direction samples from the microphone array
// controller over a serial link. The controller prints one JSON object per
// line, for example {"direction":3,"confidence":0.82}.
package sensor

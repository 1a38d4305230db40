// Package viewer renders received captions in a terminal UI.
package viewer

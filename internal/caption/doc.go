// Package caption defines the caption event broadcast to display clients.
package caption

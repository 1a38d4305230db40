package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jxke/soundsight/internal/caption"
)

// Format selects the frame payload encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a configured message format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON:
		return Format(s), nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown message format %q (expected text or json)", s)
	}
}

// CaptionMessage is the JSON payload of a caption frame.
type CaptionMessage struct {
	Type       string       `json:"type"`
	Mode       caption.Mode `json:"mode"`
	Text       string       `json:"text"`
	IsFinal    bool         `json:"isFinal"`
	Direction  int          `json:"direction"`
	Confidence float64      `json:"confidence"`
	Timestamp  float64      `json:"timestamp"` // unix seconds
}

// MessageTypeCaption is the only message type sent today.
const MessageTypeCaption = "caption"

// NewCaptionMessage converts an event to its wire form.
func NewCaptionMessage(ev *caption.Event) CaptionMessage {
	return CaptionMessage{
		Type:       MessageTypeCaption,
		Mode:       ev.Mode,
		Text:       ev.Text,
		IsFinal:    ev.IsFinal,
		Direction:  ev.Direction,
		Confidence: ev.Confidence,
		Timestamp:  unixSeconds(ev.Timestamp),
	}
}

// MarshalCaption returns the frame payload for ev.
func MarshalCaption(ev *caption.Event, format Format) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("nil caption event")
	}

	switch format {
	case FormatText, "":
		return ev.Text, nil
	case FormatJSON:
		data, err := json.Marshal(NewCaptionMessage(ev))
		if err != nil {
			return "", fmt.Errorf("failed to marshal caption: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown message format %q", format)
	}
}

// ParseCaption decodes a received payload. JSON payloads yield the decoded
// message; anything else is treated as plain caption text.
func ParseCaption(payload string) CaptionMessage {
	var msg CaptionMessage
	if len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal([]byte(payload), &msg); err == nil && msg.Type != "" {
			return msg
		}
	}
	return CaptionMessage{Type: MessageTypeCaption, Text: payload, IsFinal: true}
}

// Time returns the message timestamp.
func (m CaptionMessage) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

package transcription

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/audio"
)

// recognizeFunc performs one synchronous recognition call.
type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Google transcribes segments with Cloud Speech-to-Text.
type Google struct {
	client    *speech.Client
	recognize recognizeFunc
	language  string
	logger    zerolog.Logger
}

// NewGoogle creates a Google backend. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS.
func NewGoogle(ctx context.Context, language string, logger zerolog.Logger) (*Google, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	g := newGoogle(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, req)
	}, language, logger)
	g.client = c
	return g, nil
}

func newGoogle(recognize recognizeFunc, language string, logger zerolog.Logger) *Google {
	if language == "" {
		language = "en-US"
	}
	return &Google{recognize: recognize, language: language, logger: logger}
}

// Name returns the backend name.
func (g *Google) Name() string {
	return "google"
}

// Transcribe sends the segment as LINEAR16 and joins the top alternatives.
func (g *Google) Transcribe(ctx context.Context, segment *audio.Segment) (string, error) {
	if segment == nil || len(segment.Samples) == 0 {
		return "", fmt.Errorf("empty segment")
	}

	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(segment.SampleRate),
			LanguageCode:    g.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: pcmBytes(audio.FloatToPCM16(segment.Samples)),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognize failed: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}

	return strings.Join(parts, " "), nil
}

// Close releases the speech client.
func (g *Google) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// pcmBytes serializes samples as little-endian 16-bit PCM.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

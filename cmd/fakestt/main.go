// Command fakestt is a local stand-in for the speech-to-text API, used for
// dry runs of the captioning service without network access.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/logging"
)

type options struct {
	addr      string
	text      string
	apiKey    string
	delay     time.Duration
	minEnergy float64
}

type transcriptionResponse struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code"`
	Duration     float64 `json:"duration_seconds,omitempty"`
}

// newRouter serves POST /v1/speech-to-text. WAV uploads quieter than
// minEnergy get an empty transcript.
func newRouter(opts options, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/speech-to-text", func(w http.ResponseWriter, req *http.Request) {
		if opts.apiKey != "" && req.Header.Get("xi-api-key") != opts.apiKey {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}

		if err := req.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := req.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		resp := transcriptionResponse{Text: opts.text, LanguageCode: req.FormValue("language")}

		if strings.EqualFold(filepath.Ext(header.Filename), ".wav") {
			pcm, info, err := audio.DecodeWAV(data)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid WAV: %v", err), http.StatusBadRequest)
				return
			}
			resp.Duration = info.Duration
			if audio.RMS(audio.PCM16ToFloat(pcm)) < opts.minEnergy {
				resp.Text = ""
			}
		}

		logger.Info().
			Str("request_id", middleware.GetReqID(req.Context())).
			Str("filename", header.Filename).
			Int("bytes", len(data)).
			Str("model_id", req.FormValue("model_id")).
			Str("text", resp.Text).
			Msg("Transcription request")

		if opts.delay > 0 {
			select {
			case <-time.After(opts.delay):
			case <-req.Context().Done():
				return
			}
		}

		writeJSON(w, resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:           "fakestt",
		Short:         "Fake speech-to-text server for local testing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := logging.Init(logging.DefaultConfig()); err != nil {
				return err
			}
			logger := logging.WithComponent("fakestt")

			srv := &http.Server{
				Addr:              opts.addr,
				Handler:           newRouter(opts, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info().Str("address", opts.addr).Str("text", opts.text).Msg("Fake transcription server listening")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8081", "Listen address")
	cmd.Flags().StringVar(&opts.text, "text", "this is a test caption", "Transcript returned for audible uploads")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Required xi-api-key header value")
	cmd.Flags().DurationVar(&opts.delay, "delay", 200*time.Millisecond, "Simulated processing time")
	cmd.Flags().Float64Var(&opts.minEnergy, "min-energy", 0.005, "RMS below which the transcript is empty")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

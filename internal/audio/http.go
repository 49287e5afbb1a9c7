package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wardenhq/attendant/internal/httpkit"
)

// HTTPSpeaker is a client for the TTS service. The service plays the
// audio itself and returns once playback finishes, so Speak blocks for
// the duration of the utterance.
type HTTPSpeaker struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSpeaker creates a TTS client for the given endpoint.
func NewHTTPSpeaker(url string) *HTTPSpeaker {
	return &HTTPSpeaker{
		url: url,
		// Playback time scales with text length; a minute covers any
		// reply the prompts allow.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(time.Minute),
		),
	}
}

// Speak synthesizes and plays text, blocking until playback completes.
func (s *HTTPSpeaker) Speak(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("speak: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("speak: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("speak: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("speak: HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}

// HTTPListener is a client for the STT service.
type HTTPListener struct {
	url        string
	httpClient *http.Client
}

// NewHTTPListener creates an STT client for the given endpoint.
func NewHTTPListener(url string) *HTTPListener {
	return &HTTPListener{
		url: url,
		httpClient: httpkit.NewClient(
			// The request blocks server-side for up to the listen
			// timeout; rely on ctx plus the per-call timeout below.
			httpkit.WithTimeout(0),
		),
	}
}

// Listen asks the service to record until speech ends or timeout
// elapses and returns the transcription. Empty string means silence.
func (l *HTTPListener) Listen(ctx context.Context, timeout time.Duration) (string, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	// Give the service a margin beyond its own timeout before the
	// client gives up.
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	url := l.url + "?timeout=" + strconv.Itoa(secs)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("listen: build request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("listen: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return "", fmt.Errorf("listen: HTTP %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("listen: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

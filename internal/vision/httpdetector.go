package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wardenhq/attendant/internal/httpkit"
)

// HTTPDetector is a client for the face recognition service. The
// service holds the face encoding database; this client just ships
// frames to it and reads back identities.
type HTTPDetector struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDetector creates a detector client. baseURL is the root URL
// of the recognition service.
func NewHTTPDetector(baseURL string) *HTTPDetector {
	return &HTTPDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
	}
}

type recognizeResponse struct {
	Faces []Detection `json:"faces"`
}

// Detect posts a JPEG frame to the recognition service and returns the
// identified faces.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/recognize", bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("detector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("detector: HTTP %d: %s", resp.StatusCode, body)
	}

	var rr recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("detector: decode response: %w", err)
	}
	return rr.Faces, nil
}

// RegisterPending asks the service to enroll the unknown face it most
// recently saw under the given name.
func (d *HTTPDetector) RegisterPending(ctx context.Context, name string) error {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("detector: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/register", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("detector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detector: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("detector: register %q: HTTP %d: %s", name, resp.StatusCode, body)
	}
	return nil
}

// KnownNames returns the identities currently in the recognition
// database.
func (d *HTTPDetector) KnownNames(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/people", nil)
	if err != nil {
		return nil, fmt.Errorf("detector: build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("detector: HTTP %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Names []string `json:"names"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("detector: decode response: %w", err)
	}
	return out.Names, nil
}

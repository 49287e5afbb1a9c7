package nvr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wardenhq/attendant/internal/httpkit"
)

// maxFrameSize bounds a single snapshot read. Frames larger than this
// indicate a misconfigured endpoint, not a camera.
const maxFrameSize = 8 << 20

// Snapshot fetches the latest camera frame from the NVR's HTTP API.
// Implements the frame source consumed by the detection poll and the
// scene description tool.
type Snapshot struct {
	url        string
	httpClient *http.Client
}

// NewSnapshot creates a snapshot client for the given latest-frame URL.
func NewSnapshot(url string) *Snapshot {
	return &Snapshot{
		url: url,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
	}
}

// LatestFrame returns the most recent camera frame as JPEG bytes.
func (s *Snapshot) LatestFrame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("snapshot: HTTP %d: %s", resp.StatusCode, body)
	}

	frame, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read frame: %w", err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("snapshot: empty frame")
	}
	return frame, nil
}

package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/attendant/internal/llm"
	"github.com/wardenhq/attendant/internal/vision"
)

// labelWindow is how far back NVR object labels count as "currently
// visible" for the accelerated scene answer.
const labelWindow = 30 * time.Second

// LabelSource reports object labels the NVR recently detected.
type LabelSource interface {
	RecentLabels(window time.Duration) []string
}

// RegisterSceneTool adds the describe_scene tool. When the NVR has
// fresh object labels and the caller only wants a quick answer, those
// labels are returned directly; otherwise the latest frame goes to the
// vision model. labels may be nil (no NVR feed configured).
func RegisterSceneTool(r *Registry, frames vision.FrameSource, labels LabelSource, client llm.Client, model string) {
	r.Register(&Tool{
		Name:        "describe_scene",
		Description: "Look through the camera and describe what is currently visible. Use when the user asks what you can see, about the room, or for any visual information.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"detail": map[string]any{
					"type":        "string",
					"description": "Level of detail: 'quick' for a fast summary of detected objects, 'full' for a complete visual description (default).",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			detail, _ := args["detail"].(string)

			if detail == "quick" && labels != nil {
				if seen := labels.RecentLabels(labelWindow); len(seen) > 0 {
					sort.Strings(seen)
					return "The camera currently detects: " + strings.Join(seen, ", ") + ".", nil
				}
			}

			frame, err := frames.LatestFrame(ctx)
			if err != nil {
				return "", fmt.Errorf("capture frame: %w", err)
			}

			desc, err := client.Describe(ctx, model,
				base64.StdEncoding.EncodeToString(frame),
				"Describe what you see through this camera in 1-3 spoken sentences. Focus on people, objects, and activity. No formatting.")
			if err != nil {
				return "", fmt.Errorf("describe frame: %w", err)
			}
			return desc, nil
		},
	})
}

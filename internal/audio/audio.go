// Package audio provides the speech interfaces (TTS and STT) and the
// ambient monitor that listens for speech while no conversation is
// active. The actual synthesis and transcription run in external
// services; this package is the client and scheduling side.
package audio

import (
	"context"
	"time"
)

// Speaker synthesizes and plays text.
type Speaker interface {
	// Speak plays text on the speaker, blocking until audio finishes.
	Speak(ctx context.Context, text string) error
}

// Listener records and transcribes speech. The audio input device has
// a single reader: callers must coordinate so only one Listen runs at
// a time (see the orchestrator's pause/resume protocol).
type Listener interface {
	// Listen records until speech ends or timeout elapses, and returns
	// the transcription. An empty string with nil error means no speech
	// was heard.
	Listen(ctx context.Context, timeout time.Duration) (string, error)
}

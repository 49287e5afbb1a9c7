// Package nvr consumes the network video recorder's detection event
// feed over MQTT and serves camera snapshots over HTTP. The feed is an
// accelerator: its object-detection events tell us when someone is
// probably in view, so the face-identification poll can run faster
// while it matters and slower when the room is empty.
package nvr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/wardenhq/attendant/internal/config"
)

// detectionEvent is the NVR's event payload shape (Frigate-compatible).
type detectionEvent struct {
	Type  string `json:"type"` // new, update, end
	After struct {
		ID     string `json:"id"`
		Camera string `json:"camera"`
		Label  string `json:"label"`
	} `json:"after"`
}

// Feed subscribes to the NVR's event topic and tracks which object
// labels were recently reported.
type Feed struct {
	cfg    config.NVRConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	mu       sync.Mutex
	lastSeen map[string]time.Time // label -> last report time

	now func() time.Time
}

// NewFeed creates an NVR event feed. Call [Feed.Start] to connect.
func NewFeed(cfg config.NVRConfig, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		cfg:      cfg,
		logger:   logger.With("component", "nvr"),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Start connects to the MQTT broker and subscribes to the event topic.
// It returns once the subscription is registered; autopaho maintains
// the connection (and resubscribes) in the background until ctx is
// canceled.
func (f *Feed) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse nvr broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("nvr feed connected", "broker", f.cfg.Broker, "topic", f.cfg.Topic)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: f.cfg.Topic, QoS: 0},
				},
			}); err != nil {
				f.logger.Warn("nvr subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			f.logger.Warn("nvr connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "attendant-nvr",
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					f.handleMessage(pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("nvr connect: %w", err)
	}
	f.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		f.logger.Warn("nvr initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (f *Feed) Stop(ctx context.Context) error {
	if f.cm == nil {
		return nil
	}
	return f.cm.Disconnect(ctx)
}

// handleMessage records the label from one event payload. Malformed
// payloads and events from other cameras are ignored.
func (f *Feed) handleMessage(payload []byte) {
	var ev detectionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Debug("nvr event unparseable", "error", err, "payload_size", len(payload))
		return
	}
	if ev.After.Label == "" {
		return
	}
	if f.cfg.Camera != "" && ev.After.Camera != f.cfg.Camera {
		return
	}

	f.mu.Lock()
	f.lastSeen[ev.After.Label] = f.now()
	f.mu.Unlock()

	f.logger.Debug("nvr event", "type", ev.Type, "label", ev.After.Label, "camera", ev.After.Camera)
}

// PersonActive reports whether the NVR saw a person within the window.
// Used to shorten the face-identification poll interval.
func (f *Feed) PersonActive(window time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.lastSeen["person"]
	return ok && f.now().Sub(last) <= window
}

// RecentLabels returns the object labels reported within the window.
// The scene description tool uses these as a cheap local answer before
// spending a vision model call.
func (f *Feed) RecentLabels(window time.Duration) []string {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	var labels []string
	for label, last := range f.lastSeen {
		if now.Sub(last) <= window {
			labels = append(labels, label)
		}
	}
	return labels
}

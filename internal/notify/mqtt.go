// Package notify pushes assistant activity to an MQTT broker so
// dashboards and phones can surface pending approvals without polling
// the HTTP API.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/brightpost/assistant/internal/config"
	"github.com/brightpost/assistant/internal/events"
)

// StatsSource provides runtime data for the periodic state publish. The
// concrete adapter is wired in main.go to keep this package decoupled
// from the API server and proposal service.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Version returns the software version string.
	Version() string
	// PendingProposals returns the count of proposals awaiting a decision.
	PendingProposals() int
}

// MQTTNotifier manages the broker connection, relays proposal lifecycle
// events from the bus, and runs a periodic loop publishing runtime
// state.
type MQTTNotifier struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	stats  StatsSource
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewMQTT creates a notifier but does not connect. Call Start to begin
// the connection and publish loops.
func NewMQTT(cfg config.MQTTConfig, bus *events.Bus, stats StatsSource, logger *slog.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		cfg:    cfg,
		bus:    bus,
		stats:  stats,
		logger: logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and blocks until ctx is cancelled. On
// every (re-)connect it publishes an "online" availability message; the
// broker's will message flips it to "offline" if the process dies.
func (n *MQTTNotifier) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(n.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := n.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: n.cfg.Username,
		ConnectPassword: []byte(n.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected to broker", "broker", n.cfg.Broker)
			n.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "brightpost-" + n.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	n.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		n.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	n.runLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message before disconnecting.
func (n *MQTTNotifier) Stop(ctx context.Context) error {
	if n.cm == nil {
		return nil
	}
	n.publishAvailability(ctx, n.cm, "offline")
	return n.cm.Disconnect(ctx)
}

func (n *MQTTNotifier) baseTopic() string {
	return "brightpost/" + n.cfg.DeviceName
}

func (n *MQTTNotifier) availabilityTopic() string {
	return n.baseTopic() + "/availability"
}

func (n *MQTTNotifier) stateTopic(entity string) string {
	return n.baseTopic() + "/" + entity + "/state"
}

func (n *MQTTNotifier) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   n.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		n.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		n.logger.Info("mqtt availability published", "status", status)
	}
}

// runLoop relays proposal events and ticks the periodic state publish
// until ctx is cancelled.
func (n *MQTTNotifier) runLoop(ctx context.Context) {
	interval := time.Duration(n.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var eventCh <-chan events.Event
	if n.bus != nil {
		ch, cancel := n.bus.Subscribe(64)
		defer cancel()
		eventCh = ch
	}

	n.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			if e.Source == events.SourceProposal {
				n.publishEvent(ctx, e)
				n.publishStates(ctx)
			}
		case <-ticker.C:
			n.publishStates(ctx)
		}
	}
}

// publishEvent pushes a proposal lifecycle event so subscribers can
// notify the user the moment an approval is waiting.
func (n *MQTTNotifier) publishEvent(ctx context.Context, e events.Event) {
	if n.cm == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("mqtt marshal event", "type", e.Type, "error", err)
		return
	}
	if _, err := n.cm.Publish(ctx, &paho.Publish{
		Topic:   n.baseTopic() + "/proposals/events",
		Payload: payload,
		QoS:     1,
	}); err != nil {
		n.logger.Warn("mqtt event publish failed", "type", e.Type, "error", err)
	}
}

func (n *MQTTNotifier) publishStates(ctx context.Context) {
	if n.cm == nil {
		return
	}

	states := map[string]string{
		"uptime":            n.stats.Uptime().Truncate(time.Second).String(),
		"version":           n.stats.Version(),
		"pending_proposals": strconv.Itoa(n.stats.PendingProposals()),
	}

	for entity, value := range states {
		if _, err := n.cm.Publish(ctx, &paho.Publish{
			Topic:   n.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			n.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}

	n.logger.Debug("mqtt states published", "entities", len(states))
}

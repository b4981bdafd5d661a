package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/sundevil-helper/internal/buildinfo"
	"github.com/nugget/sundevil-helper/internal/config"
	"github.com/nugget/sundevil-helper/internal/events"
)

const busBuffer = 256

// publisher is the slice of [autopaho.ConnectionManager] the bridge
// needs once connected.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Bridge forwards bus events to an MQTT broker.
type Bridge struct {
	cfg        config.MQTTConfig
	instanceID string
	bus        *events.Bus
	usage      *DailyUsage
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect. Call [Bridge.Start].
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, loc *time.Location, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:        cfg,
		instanceID: instanceID,
		bus:        bus,
		usage:      NewDailyUsage(loc),
		logger:     logger,
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled, then publishes "offline" and disconnects. A broker that
// is down at startup is not an error: autopaho keeps retrying.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.publishAvailability(ctx, cm, "online")
			b.publishUsage(ctx, cm)
			b.bus.Emit(events.SourceMQTT, events.KindBridgeState, map[string]any{
				"broker":    b.cfg.Broker,
				"connected": true,
			})
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID(b.cfg.ClientID, b.instanceID),
			OnClientError: func(err error) {
				b.logger.Warn("mqtt connection lost", "error", err)
				b.bus.Emit(events.SourceMQTT, events.KindBridgeState, map[string]any{
					"broker":    b.cfg.Broker,
					"connected": false,
				})
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ch := b.bus.Subscribe(busBuffer)
	defer b.bus.Unsubscribe(ch)

	// The connection outlives ctx so stop can still publish "offline".
	cm, err := autopaho.NewConnection(context.WithoutCancel(ctx), pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil && ctx.Err() == nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	connCancel()

	b.forward(ctx, cm, ch)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.stop(stopCtx)
}

// stop publishes "offline" before closing the connection.
func (b *Bridge) stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	if err := b.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	b.logger.Info("mqtt bridge stopped")
	return nil
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (b *Bridge) AwaitConnection(ctx context.Context) error {
	if b.cm == nil {
		return fmt.Errorf("mqtt bridge not started")
	}
	return b.cm.AwaitConnection(ctx)
}

// forward publishes every event from ch until ctx is done or ch is
// closed. Publishing while disconnected fails fast and the event is
// dropped; the bus is best-effort by nature.
func (b *Bridge) forward(ctx context.Context, pub publisher, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			msg, err := b.eventMessage(e)
			if err != nil {
				b.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
				continue
			}
			if _, err := pub.Publish(ctx, msg); err != nil {
				b.logger.Debug("mqtt event publish failed", "topic", msg.Topic, "error", err)
			}
			if b.usage.Observe(e) && e.Kind == events.KindRequestComplete {
				b.publishUsage(ctx, pub)
			}
		}
	}
}

// --- Topic helpers ---

func (b *Bridge) availabilityTopic() string {
	return b.cfg.TopicPrefix + "/availability"
}

func (b *Bridge) eventTopic(kind string) string {
	return b.cfg.TopicPrefix + "/events/" + kind
}

func (b *Bridge) usageTopic() string {
	return b.cfg.TopicPrefix + "/usage"
}

func (b *Bridge) eventMessage(e events.Event) (*paho.Publish, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &paho.Publish{
		Topic:   b.eventTopic(e.Kind),
		Payload: payload,
		QoS:     0,
	}, nil
}

func (b *Bridge) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		b.logger.Info("mqtt availability published", "status", status)
	}
}

func (b *Bridge) publishUsage(ctx context.Context, pub publisher) {
	snap := b.usage.Snapshot()
	snap.InstanceID = b.instanceID
	snap.AgentVersion = buildinfo.Version
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logger.Error("mqtt marshal usage", "error", err)
		return
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.usageTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		b.logger.Debug("mqtt usage publish failed", "error", err)
	}
}

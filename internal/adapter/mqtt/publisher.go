// Package mqtt publishes connection state changes to an MQTT broker so
// remote dashboards see link health without polling the HTTP API.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nexus-edge/plc-link/internal/adapter/config"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/metrics"
	"github.com/rs/zerolog"
)

// defaultPublishTimeout bounds a single state publish.
const defaultPublishTimeout = 5 * time.Second

// StatePublisher pushes connection state snapshots to the configured topic.
// State messages are retained so a dashboard connecting late still sees the
// current link health.
type StatePublisher struct {
	cfg     config.MQTTConfig
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu        sync.RWMutex
	client    pahomqtt.Client
	connected atomic.Bool
}

// NewStatePublisher creates the publisher. Connect establishes the broker
// session.
func NewStatePublisher(cfg config.MQTTConfig, m *metrics.Registry, logger zerolog.Logger) *StatePublisher {
	return &StatePublisher{
		cfg:     cfg,
		logger:  logger.With().Str("component", "mqtt-state-publisher").Logger(),
		metrics: m,
	}
}

// Connect establishes the connection to the MQTT broker.
func (p *StatePublisher) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.cfg.BrokerURL)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(p.cfg.KeepAlive)
	opts.SetConnectTimeout(p.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.cfg.ReconnectDelay)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		p.connected.Store(true)
		p.logger.Info().Msg("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.connected.Store(false)
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if p.metrics != nil {
			p.metrics.MQTTReconnects.Inc()
		}
		p.logger.Info().Msg("Attempting to reconnect to MQTT broker")
	})

	client := pahomqtt.NewClient(opts)

	p.logger.Info().Str("broker", p.cfg.BrokerURL).Msg("Connecting to MQTT broker")
	token := client.Connect()

	connectDone := make(chan bool, 1)
	go func() {
		connectDone <- token.WaitTimeout(p.cfg.ConnectTimeout)
	}()

	select {
	case success := <-connectDone:
		if !success {
			return fmt.Errorf("%w: connection timeout", domain.ErrMQTTConnectionFailed)
		}
		if token.Error() != nil {
			return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, token.Error())
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, ctx.Err())
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	p.connected.Store(true)
	return nil
}

// Disconnect gracefully disconnects from the MQTT broker. Idempotent.
func (p *StatePublisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(1000) // wait up to 1s for in-flight messages
	}
	p.connected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// PublishState publishes one state snapshot to the configured topic.
func (p *StatePublisher) PublishState(ctx context.Context, payload any) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil || !p.connected.Load() {
		p.metrics.RecordMQTTPublish(false)
		return domain.ErrMQTTNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	token := client.Publish(p.cfg.StateTopic, p.cfg.QoS, true, data)

	publishDone := make(chan bool, 1)
	go func() {
		publishDone <- token.WaitTimeout(defaultPublishTimeout)
	}()

	select {
	case success := <-publishDone:
		if !success {
			p.metrics.RecordMQTTPublish(false)
			return fmt.Errorf("%w: publish timeout", domain.ErrMQTTPublishFailed)
		}
		if token.Error() != nil {
			p.metrics.RecordMQTTPublish(false)
			return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, token.Error())
		}
	case <-ctx.Done():
		p.metrics.RecordMQTTPublish(false)
		return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, ctx.Err())
	}

	p.metrics.RecordMQTTPublish(true)
	p.logger.Debug().Str("topic", p.cfg.StateTopic).Msg("Connection state published")
	return nil
}

// IsConnected reports whether the broker session is up.
func (p *StatePublisher) IsConnected() bool {
	return p.connected.Load()
}

// HealthCheck implements the health.Checker interface.
func (p *StatePublisher) HealthCheck(ctx context.Context) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}
	return nil
}

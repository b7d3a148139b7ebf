// Package metrics exposes prometheus collectors for a push receiver session.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "push_receiver").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry the collectors are registered on. Nil leaves them unregistered.
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector holds the session metrics.
type Collector struct {
	framesReceived    *prometheus.CounterVec
	messagesDelivered prometheus.Counter
	messagesDropped   *prometheus.CounterVec
	reconnects        prometheus.Counter
	heartbeatsSent    prometheus.Counter
	state             prometheus.Gauge
}

// New creates the collectors and registers them on the configured registry.
func New(opts ...Option) *Collector {
	config := Config{Namespace: "push_receiver"}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_received_total",
			Help:        "MCS frames received, by tag",
			ConstLabels: config.ConstLabels,
		}, []string{"tag"}),

		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_delivered_total",
			Help:        "Decrypted messages handed to observers",
			ConstLabels: config.ConstLabels,
		}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_dropped_total",
			Help:        "Data messages not delivered, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_total",
			Help:        "Scheduled reconnect attempts",
			ConstLabels: config.ConstLabels,
		}),

		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "heartbeats_sent_total",
			Help:        "Heartbeat pings sent to the server",
			ConstLabels: config.ConstLabels,
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_state",
			Help:        "Current session state",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// FrameReceived counts a decoded frame
func (c *Collector) FrameReceived(tag uint8) {
	c.framesReceived.WithLabelValues(strconv.Itoa(int(tag))).Inc()
}

// MessageDelivered counts a message emitted to observers
func (c *Collector) MessageDelivered() {
	c.messagesDelivered.Inc()
}

// MessageDropped counts a message skipped for reason
func (c *Collector) MessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// Reconnect counts a scheduled reconnect
func (c *Collector) Reconnect() {
	c.reconnects.Inc()
}

// HeartbeatSent counts a ping written to the socket
func (c *Collector) HeartbeatSent() {
	c.heartbeatsSent.Inc()
}

// SetState records the numeric session state
func (c *Collector) SetState(state int) {
	c.state.Set(float64(state))
}

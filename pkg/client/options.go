package client

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/metrics"
	"github.com/palbooo/fcm-receiver-go/pkg/register"
	"go.uber.org/zap"
)

// Config describes the application the client receives messages for
type Config struct {
	// BundleID is sent as the GCM app, empty means org.chromium.linux
	BundleID string
	// SenderID is the Firebase project number and is required
	SenderID string
	// VapidKey defaults to the public Firebase key
	VapidKey string
	// Credentials from an earlier registration, nil registers on Connect
	Credentials *register.Credentials
	// PersistentIDs of messages received since the last login
	PersistentIDs []string
	// HeartbeatInterval between client pings, zero disables heartbeats
	HeartbeatInterval time.Duration
}

// NewConfig returns a Config for senderID with the default heartbeat
func NewConfig(senderID string) Config {
	return Config{
		SenderID:          senderID,
		VapidKey:          constants.DefaultVapidKey,
		HeartbeatInterval: constants.DefaultHeartbeatInterval,
	}
}

// RegisterService registers devices and refreshes their check-in.
// *register.Service implements it.
type RegisterService interface {
	Register(ctx context.Context, previous *register.Credentials) (*register.Credentials, error)
	CheckIn(ctx context.Context, gcm *register.GCMCredentials) (*register.GCMCredentials, error)
}

// DialFunc opens the connection to the MCS endpoint
type DialFunc func(ctx context.Context) (net.Conn, error)

// Timer is the part of *time.Timer the client uses
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, time.AfterFunc by default
type AfterFunc func(d time.Duration, f func()) Timer

// ClientOption is a function that configures the client
type ClientOption func(*Client)

// WithLogger sets the logger, a no-op logger is used otherwise
func WithLogger(logger *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebugMode logs at debug level to a production logger when no logger
// was set
func WithDebugMode(enabled bool) ClientOption {
	return func(c *Client) {
		c.debugMode = enabled
	}
}

// WithDialer replaces the TLS dialer
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithRegisterService replaces the registration service built from Config
func WithRegisterService(service RegisterService) ClientOption {
	return func(c *Client) {
		c.registrar = service
	}
}

// WithMetrics sets the prometheus collector
func WithMetrics(collector *metrics.Collector) ClientOption {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithAfterFunc replaces the timer factory used for heartbeats and reconnects
func WithAfterFunc(afterFunc AfterFunc) ClientOption {
	return func(c *Client) {
		c.afterFunc = afterFunc
	}
}

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// dialTLS connects to mtalk.google.com:5228
func dialTLS(ctx context.Context) (net.Conn, error) {
	// Use dialer with timeout and keep-alive
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout:   constants.DialTimeout,
			KeepAlive: 30 * time.Second, // TCP keep-alive to prevent NAT/firewall timeouts
		},
		Config: &tls.Config{
			ServerName: constants.MCSHost,
		},
	}
	return dialer.DialContext(ctx, "tcp", constants.MCSAddr)
}

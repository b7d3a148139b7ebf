package main

import (
	"context"
	"errors"
	"time"

	"github.com/palbooo/fcm-receiver-go/internal/logging"
	"github.com/palbooo/fcm-receiver-go/internal/store"
	"github.com/palbooo/fcm-receiver-go/pkg/register"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
)

// Config of the push-receiver command
type Config struct {
	SenderID    string        `env:"PUSH_SENDER_ID"`
	BundleID    string        `env:"PUSH_BUNDLE_ID"`
	VapidKey    string        `env:"PUSH_VAPID_KEY"`
	Heartbeat   time.Duration `env:"PUSH_HEARTBEAT, default=5m"`
	StateDir    string        `env:"PUSH_STATE_DIR, default=."`
	Debug       bool          `env:"PUSH_DEBUG"`
	MetricsAddr string        `env:"PUSH_METRICS_ADDR"`
}

// configFlags override the environment when set on the command line
type configFlags struct {
	senderID    string
	bundleID    string
	vapidKey    string
	heartbeat   time.Duration
	stateDir    string
	debug       bool
	metricsAddr string
}

func (f *configFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.senderID, "sender-id", "", "Firebase sender id (project number)")
	fs.StringVar(&f.bundleID, "bundle-id", "", "GCM app id, org.chromium.linux when empty")
	fs.StringVar(&f.vapidKey, "vapid-key", "", "VAPID public key, the Firebase key when empty")
	fs.DurationVar(&f.heartbeat, "heartbeat", 0, "Heartbeat interval, 0 disables heartbeats")
	fs.StringVarP(&f.stateDir, "state-dir", "d", "", "Directory for credentials.json and persistentIds.json")
	fs.BoolVar(&f.debug, "debug", false, "Log at debug level")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
}

// apply copies the flags the user set onto config
func (f *configFlags) apply(cmd *cobra.Command, config *Config) {
	fs := cmd.Flags()
	if fs.Changed("sender-id") {
		config.SenderID = f.senderID
	}
	if fs.Changed("bundle-id") {
		config.BundleID = f.bundleID
	}
	if fs.Changed("vapid-key") {
		config.VapidKey = f.vapidKey
	}
	if fs.Changed("heartbeat") {
		config.Heartbeat = f.heartbeat
	}
	if fs.Changed("state-dir") {
		config.StateDir = f.stateDir
	}
	if fs.Changed("debug") {
		config.Debug = f.debug
	}
	if fs.Changed("metrics-addr") {
		config.MetricsAddr = f.metricsAddr
	}
}

type configKey struct{}

// LoadConfig reads the environment and applies the flags
func LoadConfig(ctx context.Context, cmd *cobra.Command, flags *configFlags) (*Config, error) {
	var config Config
	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}
	flags.apply(cmd, &config)

	if config.SenderID == "" {
		return nil, errors.New("sender id is required, set PUSH_SENDER_ID or --sender-id")
	}
	if config.Heartbeat < 0 {
		return nil, errors.New("heartbeat interval must not be negative")
	}
	return &config, nil
}

// setup loads the configuration and puts it into the context together with
// the logger
func setup(ctx context.Context, cmd *cobra.Command, flags *configFlags) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := LoadConfig(ctx, cmd, flags)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(config.Debug)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithLogger(ctx, logger)
	return context.WithValue(ctx, configKey{}, config), nil
}

func configFromContext(ctx context.Context) *Config {
	return ctx.Value(configKey{}).(*Config)
}

// registerService builds the registration service for config
func registerService(ctx context.Context, config *Config) *register.Service {
	rc := register.DefaultConfig()
	rc.SenderID = config.SenderID
	rc.BundleID = config.BundleID
	if config.VapidKey != "" {
		rc.VapidKey = config.VapidKey
	}
	rc.Logger = logging.FromContext(ctx).Named("register")
	return register.NewService(rc)
}

func openStore(config *Config) (*store.Store, error) {
	return store.New(config.StateDir)
}

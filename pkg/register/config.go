package register

import (
	"net/http"
	"time"

	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"go.uber.org/zap"
)

// Config holds the endpoints and the application identity used to register
type Config struct {
	CheckinURL     string
	RegisterURL    string
	SubscribeURL   string
	UnsubscribeURL string
	SendURL        string

	// BundleID is sent as the GCM app, empty means org.chromium.linux
	BundleID string
	SenderID string
	VapidKey string

	RegisterRetryDelay time.Duration
	// HTTPRetryStep scales the delay between rejected HTTP requests
	HTTPRetryStep time.Duration

	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// DefaultConfig returns the production endpoints and the Firebase VAPID key
func DefaultConfig() *Config {
	return &Config{
		CheckinURL:         constants.CheckinURL,
		RegisterURL:        constants.RegisterURL,
		SubscribeURL:       constants.FCMSubscribeURL,
		UnsubscribeURL:     constants.FCMUnsubscribeURL,
		SendURL:            constants.FCMSendURL,
		VapidKey:           constants.DefaultVapidKey,
		RegisterRetryDelay: constants.RegisterRetryDelay,
		HTTPRetryStep:      constants.HTTPRetryStep,
	}
}

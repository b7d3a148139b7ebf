// Package fcm subscribes a GCM registration to Firebase Cloud Messaging web
// push and generates the key material the messages are encrypted to.
package fcm

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/utils"
	"go.uber.org/zap"
)

// Keys is a fresh P-256 key pair and auth secret, URL-safe base64 without padding
type Keys struct {
	PrivateKey string
	PublicKey  string
	AuthSecret string
}

// Subscription is the FCM answer to a subscribe request
type Subscription struct {
	Token   string `json:"token"`
	PushSet string `json:"pushSet"`
}

// Config holds the FCM endpoints
type Config struct {
	SubscribeURL   string
	UnsubscribeURL string
	SendURL        string
}

// DefaultConfig returns the production endpoints
func DefaultConfig() Config {
	return Config{
		SubscribeURL:   constants.FCMSubscribeURL,
		UnsubscribeURL: constants.FCMUnsubscribeURL,
		SendURL:        constants.FCMSendURL,
	}
}

// Client talks to the FCM connect endpoints
type Client struct {
	config    Config
	transport *utils.Transport
	logger    *zap.SugaredLogger
}

// NewClient creates an FCM client on top of transport
func NewClient(config Config, transport *utils.Transport, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		config:    config,
		transport: transport,
		logger:    logger,
	}
}

// CreateKeys generates the receiver key pair and a 16 byte auth secret
func CreateKeys() (*Keys, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate auth secret: %w", err)
	}

	return &Keys{
		PrivateKey: utils.ToURLBase64(priv.Bytes()),
		PublicKey:  utils.ToURLBase64(priv.PublicKey().Bytes()),
		AuthSecret: utils.ToURLBase64(secret),
	}, nil
}

// Subscribe binds the GCM token to senderID; pushes are encrypted to keys
func (c *Client) Subscribe(ctx context.Context, senderID, gcmToken string, keys *Keys) (*Subscription, error) {
	body, err := c.transport.Do(ctx, utils.RequestOptions{
		URL:    c.config.SubscribeURL,
		Method: "POST",
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Form: map[string]string{
			"authorized_entity": senderID,
			"endpoint":          c.config.SendURL + "/" + gcmToken,
			"encryption_key":    keys.PublicKey,
			"encryption_auth":   keys.AuthSecret,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe request failed: %w", err)
	}

	subscription := &Subscription{}
	if err := json.Unmarshal(body, subscription); err != nil {
		return nil, fmt.Errorf("failed to parse subscribe response: %w", err)
	}
	if subscription.Token == "" {
		return nil, fmt.Errorf("subscribe response has no token: %s", string(body))
	}

	c.logger.Debugw("FCM subscription created", "pushSet", subscription.PushSet)

	return subscription, nil
}

// Unsubscribe deletes the FCM token. It makes a single attempt, a token that
// is already gone answers with a client error.
func (c *Client) Unsubscribe(ctx context.Context, senderID string, subscription *Subscription) error {
	_, err := c.transport.SimpleRequest(ctx, utils.RequestOptions{
		URL:    c.config.UnsubscribeURL,
		Method: "POST",
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Form: map[string]string{
			"authorized_entity": senderID,
			"token":             subscription.Token,
			"pushSet":           subscription.PushSet,
		},
	})
	if err != nil {
		return fmt.Errorf("unsubscribe request failed: %w", err)
	}
	return nil
}

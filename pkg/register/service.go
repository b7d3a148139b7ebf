package register

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/fcm"
	"github.com/palbooo/fcm-receiver-go/internal/gcm"
	"github.com/palbooo/fcm-receiver-go/internal/utils"
	"go.uber.org/zap"
)

// ErrRegistrationFailed is returned when GCM keeps rejecting the register request
var ErrRegistrationFailed = gcm.ErrRegistrationFailed

// Service handles GCM check-in and FCM registration operations
type Service struct {
	config *Config
	gcm    *gcm.Client
	fcm    *fcm.Client
	logger *zap.SugaredLogger
}

// NewService creates a new registration service
func NewService(config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	config = &cfg
	if config.VapidKey == "" {
		config.VapidKey = constants.DefaultVapidKey
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	transport := utils.NewTransport(config.HTTPClient, logger.Named("http"))
	if config.HTTPRetryStep > 0 {
		transport.RetryStep = config.HTTPRetryStep
		transport.MaxRetryTimeout = 3 * config.HTTPRetryStep
	}

	return &Service{
		config: config,
		gcm: gcm.NewClient(gcm.Config{
			CheckinURL:  config.CheckinURL,
			RegisterURL: config.RegisterURL,
			RetryDelay:  config.RegisterRetryDelay,
		}, transport, logger.Named("gcm")),
		fcm: fcm.NewClient(fcm.Config{
			SubscribeURL:   config.SubscribeURL,
			UnsubscribeURL: config.UnsubscribeURL,
			SendURL:        config.SendURL,
		}, transport, logger.Named("fcm")),
		logger: logger,
	}
}

// SenderID returns the sender the service registers for
func (s *Service) SenderID() string {
	return s.config.SenderID
}

// Register performs the complete registration flow: check-in, GCM register
// and FCM subscribe with freshly generated keys. The GCM identity of previous
// is reused when given.
func (s *Service) Register(ctx context.Context, previous *Credentials) (*Credentials, error) {
	if s.config.SenderID == "" {
		return nil, errors.New("sender id is required")
	}

	var prevGCM *GCMCredentials
	if previous != nil {
		prevGCM = &previous.GCM
	}

	// Step 1: Check in
	checkin, err := s.CheckIn(ctx, prevGCM)
	if err != nil {
		return nil, err
	}

	// Step 2: Register with GCM
	token, err := s.gcm.Register(ctx, checkin.AndroidID, checkin.SecurityToken, s.config.BundleID, s.config.SenderID, s.config.VapidKey)
	if err != nil {
		return nil, fmt.Errorf("gcm registration failed: %w", err)
	}
	checkin.Token = token

	// Step 3: Subscribe with FCM
	keys, err := fcm.CreateKeys()
	if err != nil {
		return nil, err
	}
	subscription, err := s.fcm.Subscribe(ctx, s.config.SenderID, token, keys)
	if err != nil {
		return nil, fmt.Errorf("fcm subscription failed: %w", err)
	}

	s.logger.Infow("Registration successful", "androidId", checkin.AndroidID, "senderId", s.config.SenderID)

	return &Credentials{
		Keys: Keys{
			PrivateKey: keys.PrivateKey,
			PublicKey:  keys.PublicKey,
			AuthSecret: keys.AuthSecret,
		},
		GCM: *checkin,
		FCM: FCMSubscription{
			Token:   subscription.Token,
			PushSet: subscription.PushSet,
		},
		SenderID: s.config.SenderID,
	}, nil
}

// CheckIn refreshes the GCM identity, nil provisions a new device. The token
// of current is carried over.
func (s *Service) CheckIn(ctx context.Context, current *GCMCredentials) (*GCMCredentials, error) {
	var androidID, securityToken, token string
	if current != nil {
		androidID, securityToken, token = current.AndroidID, current.SecurityToken, current.Token
	}

	resp, err := s.gcm.CheckIn(ctx, androidID, securityToken)
	if err != nil {
		return nil, fmt.Errorf("checkin failed: %w", err)
	}
	if resp.GetAndroidID() == 0 || resp.GetSecurityToken() == 0 {
		return nil, errors.New("checkin response has no device identity")
	}

	return &GCMCredentials{
		AndroidID:     strconv.FormatUint(resp.GetAndroidID(), 10),
		SecurityToken: strconv.FormatUint(resp.GetSecurityToken(), 10),
		Token:         token,
	}, nil
}

// Unregister deletes the FCM subscription and the GCM registration of creds.
// Both are attempted, the errors are joined.
func (s *Service) Unregister(ctx context.Context, creds *Credentials) error {
	senderID := creds.SenderID
	if senderID == "" {
		senderID = s.config.SenderID
	}

	var errs []error
	if err := s.fcm.Unsubscribe(ctx, senderID, &fcm.Subscription{Token: creds.FCM.Token, PushSet: creds.FCM.PushSet}); err != nil {
		errs = append(errs, err)
	}
	if err := s.gcm.Unregister(ctx, creds.GCM.AndroidID, creds.GCM.SecurityToken, s.config.BundleID); err != nil {
		errs = append(errs, fmt.Errorf("gcm unregister failed: %w", err))
	}

	return errors.Join(errs...)
}

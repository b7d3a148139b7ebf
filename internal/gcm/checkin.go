package gcm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/utils"
	pb "github.com/palbooo/fcm-receiver-go/proto"
	"go.uber.org/zap"
)

// Config holds the GCM endpoints and the register retry delay
type Config struct {
	CheckinURL  string
	RegisterURL string
	RetryDelay  time.Duration
}

// DefaultConfig returns the production endpoints
func DefaultConfig() Config {
	return Config{
		CheckinURL:  constants.CheckinURL,
		RegisterURL: constants.RegisterURL,
		RetryDelay:  constants.RegisterRetryDelay,
	}
}

// Client performs device check-in and GCM registration
type Client struct {
	config    Config
	transport *utils.Transport
	logger    *zap.SugaredLogger
}

// NewClient creates a GCM client on top of transport
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

// CheckIn performs a GCM check-in to get androidId and securityToken. Passing
// an existing identity refreshes it, empty strings provision a new device.
func (c *Client) CheckIn(ctx context.Context, androidID, securityToken string) (*pb.AndroidCheckinResponse, error) {
	buffer, err := getCheckinRequest(androidID, securityToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkin request: %w", err)
	}

	body, err := c.transport.Do(ctx, utils.RequestOptions{
		URL:    c.config.CheckinURL,
		Method: "POST",
		Headers: map[string]string{
			"Content-Type": "application/x-protobuf",
		},
		Body: buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("checkin request failed: %w", err)
	}

	response := &pb.AndroidCheckinResponse{}
	if err := response.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkin response: %w", err)
	}

	c.logger.Debugw("Checked in", "androidId", response.GetAndroidID())

	return response, nil
}

func getCheckinRequest(androidID, securityToken string) ([]byte, error) {
	var androidIDVal *int64
	var securityTokenVal *uint64

	if androidID != "" {
		id, err := strconv.ParseInt(androidID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid androidId: %w", err)
		}
		androidIDVal = &id
	}

	if securityToken != "" {
		token, err := strconv.ParseUint(securityToken, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid securityToken: %w", err)
		}
		securityTokenVal = &token
	}

	checkinType := pb.DeviceChromeBrowser
	platform := pb.PlatformLinux
	channel := pb.ChannelStable
	version := int32(3)
	userSerialNumber := int32(0)

	request := &pb.AndroidCheckinRequest{
		UserSerialNumber: &userSerialNumber,
		Checkin: &pb.AndroidCheckinProto{
			Type: &checkinType,
			ChromeBuild: &pb.ChromeBuildProto{
				Platform:      &platform,
				ChromeVersion: constants.ChromeVersion,
				Channel:       &channel,
			},
		},
		Version:       &version,
		ID:            androidIDVal,
		SecurityToken: securityTokenVal,
	}

	return request.Marshal()
}

package gcm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/utils"
)

// ErrRegistrationFailed is returned once every register attempt answered with
// an Error body.
var ErrRegistrationFailed = errors.New("GCM register has failed")

var errRejected = errors.New("register request rejected")

// Register performs GCM registration and returns the token
func (c *Client) Register(ctx context.Context, androidID, securityToken, bundleID, senderID, vapidKey string) (string, error) {
	if bundleID == "" {
		bundleID = constants.FallbackBundleID
	}

	form := map[string]string{
		"app":       bundleID,
		"X-subtype": senderID,
		"device":    androidID,
		"sender":    vapidKey,
	}

	response, err := c.postRegister(ctx, androidID, securityToken, form)
	if err != nil {
		return "", err
	}
	c.logger.Debugw("GCM registration response", "response", response)

	// Extract token from response (format: "token=<TOKEN>")
	_, token, found := strings.Cut(response, "=")
	if !found || token == "" {
		return "", fmt.Errorf("invalid register response format: %s", response)
	}

	return strings.TrimSpace(token), nil
}

// Unregister deletes the GCM registration of the device for bundleID
func (c *Client) Unregister(ctx context.Context, androidID, securityToken, bundleID string) error {
	if bundleID == "" {
		bundleID = constants.FallbackBundleID
	}

	form := map[string]string{
		"app":              bundleID,
		"device":           androidID,
		"delete":           "true",
		"gcm_unreg_caller": "false",
	}

	response, err := c.postRegister(ctx, androidID, securityToken, form)
	if err != nil {
		return err
	}
	c.logger.Debugw("GCM unregistration response", "response", response)

	return nil
}

// postRegister retries while the server answers with an Error body. Transport
// failures are not retried here.
func (c *Client) postRegister(ctx context.Context, androidID, securityToken string, form map[string]string) (string, error) {
	var response string

	err := retry.Do(
		func() error {
			body, err := c.transport.Do(ctx, utils.RequestOptions{
				URL:    c.config.RegisterURL,
				Method: "POST",
				Headers: map[string]string{
					"Authorization": fmt.Sprintf("AidLogin %s:%s", androidID, securityToken),
					"Content-Type":  "application/x-www-form-urlencoded",
				},
				Form: form,
			})
			if err != nil {
				return fmt.Errorf("register request failed: %w", err)
			}

			response = string(body)
			if strings.Contains(response, "Error") {
				return fmt.Errorf("%w: %s", errRejected, response)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(constants.RegisterMaxRetries+1),
		retry.Delay(c.config.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errRejected)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warnw("Register request has failed", "attempt", n+1, "error", err)
		}),
	)
	if errors.Is(err, errRejected) {
		return "", fmt.Errorf("%w: %s", ErrRegistrationFailed, response)
	}
	if err != nil {
		return "", err
	}

	return response, nil
}

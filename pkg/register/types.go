package register

import (
	"encoding/json"
	"fmt"
)

// Keys holds the web push key material as URL-safe unpadded base64
type Keys struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
	AuthSecret string `json:"authSecret"`
}

// GCMCredentials contains GCM authentication credentials
type GCMCredentials struct {
	AndroidID     string `json:"androidId"`
	SecurityToken string `json:"securityToken"`
	Token         string `json:"token,omitempty"`
}

// FCMSubscription contains the FCM token and its push set
type FCMSubscription struct {
	Token   string `json:"token"`
	PushSet string `json:"pushSet"`
}

// Credentials is everything a device needs to log in and decrypt messages.
// A value is never modified once created, rotations produce a new one.
type Credentials struct {
	Keys Keys            `json:"keys"`
	GCM  GCMCredentials  `json:"gcm"`
	FCM  FCMSubscription `json:"fcm"`
	// SenderID the credentials were issued for
	SenderID string `json:"senderId,omitempty"`
}

// WithGCM returns a copy of c carrying gcm
func (c *Credentials) WithGCM(gcm GCMCredentials) *Credentials {
	out := *c
	out.GCM = gcm
	return &out
}

// ParseCredentials decodes credentials stored with ToJSON
func ParseCredentials(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if c.GCM.AndroidID == "" || c.GCM.SecurityToken == "" {
		return nil, fmt.Errorf("credentials have no GCM identity")
	}
	return &c, nil
}

// ToJSON converts the Credentials to a JSON string
func (c *Credentials) ToJSON() (string, error) {
	jsonBytes, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// ToJSONIndent converts the Credentials to a pretty-printed JSON string
func (c *Credentials) ToJSONIndent() (string, error) {
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

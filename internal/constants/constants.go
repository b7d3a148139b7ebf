package constants

import "time"

// MCS Protocol Version
const MCSVersion = 41

// MCSVersionLegacy is still answered by some relays.
const MCSVersionLegacy = 38

// Processing states
const (
	MCSVersionTagAndSize = iota
	MCSTagAndSize
	MCSSize
	MCSProtoBytes
)

// Packet lengths
const (
	VersionPacketLen = 1
	TagPacketLen     = 1
	SizePacketLenMin = 1
	SizePacketLenMax = 5

	// MaxMessageSize bounds the payload buffered for a single frame
	MaxMessageSize = 4 << 20
)

// MCS Message tags
const (
	HeartbeatPingTag       = 0
	HeartbeatAckTag        = 1
	LoginRequestTag        = 2
	LoginResponseTag       = 3
	CloseTag               = 4
	MessageStanzaTag       = 5
	PresenceStanzaTag      = 6
	IqStanzaTag            = 7
	DataMessageStanzaTag   = 8
	BatchPresenceStanzaTag = 9
	StreamErrorStanzaTag   = 10
	HttpRequestTag         = 11
	HttpResponseTag        = 12
	BindAccountRequestTag  = 13
	BindAccountResponseTag = 14
	TalkMetadataTag        = 15
	NumProtoTypes          = 16
)

// MCS Server configuration
const (
	MCSHost = "mtalk.google.com"
	MCSPort = "5228"
	MCSAddr = MCSHost + ":" + MCSPort
)

// Login request values
const (
	MCSDomain     = "mcs.android.com"
	ChromeVersion = "63.0.3234.0"
	ClientID      = "chrome-" + ChromeVersion
)

// GCM configuration
const (
	CheckinURL  = "https://android.clients.google.com/checkin"
	RegisterURL = "https://android.clients.google.com/c2dm/register3"
	// FallbackBundleID is sent as the GCM app when the caller has none.
	FallbackBundleID = "org.chromium.linux"
)

// FCM configuration
const (
	FCMSubscribeURL   = "https://fcm.googleapis.com/fcm/connect/subscribe"
	FCMUnsubscribeURL = "https://fcm.googleapis.com/fcm/connect/unsubscribe"
	FCMSendURL        = "https://fcm.googleapis.com/fcm/send"
	// DefaultVapidKey is the public Firebase web push key.
	DefaultVapidKey = "BDOU99-h67HcA6JeFXHbSNMu7e2yNNu3RzoMj8TM4W88jITfq7ZmPvIM1Iv-4_l2LxQcYwhqby2xGpWwzjfAnG4"
)

// Timing
const (
	DefaultHeartbeatInterval = 5 * time.Minute
	MaxRetryTimeout          = 15 // seconds
	RegisterRetryDelay       = time.Second
	RegisterMaxRetries       = 5
	HTTPRetryStep            = 5 * time.Second
	HTTPMaxRetryTimeout      = 15 * time.Second
	DialTimeout              = 30 * time.Second
	WriteTimeout             = 30 * time.Second
)

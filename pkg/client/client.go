package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/ece"
	"github.com/palbooo/fcm-receiver-go/internal/logging"
	"github.com/palbooo/fcm-receiver-go/internal/metrics"
	"github.com/palbooo/fcm-receiver-go/internal/parser"
	"github.com/palbooo/fcm-receiver-go/pkg/register"
	pb "github.com/palbooo/fcm-receiver-go/proto"
	"go.uber.org/zap"
)

// State of the push receiver session
type State int

const (
	StateIdle State = iota
	StateRegistering
	StateConnecting
	StateAuthenticating
	StateReady
	StateReconnecting
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistering:
		return "registering"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Client represents a push receiver session with the MCS endpoint
type Client struct {
	config    Config
	logger    *zap.SugaredLogger
	debugMode bool
	metrics   *metrics.Collector
	registrar RegisterService
	dial      DialFunc
	afterFunc AfterFunc

	// ctx is cancelled by Destroy and aborts in-flight HTTP retries
	ctx    context.Context
	cancel context.CancelFunc

	observers observers

	mu                   sync.Mutex
	state                State
	credentials          *register.Credentials
	persistentIDs        []string
	conn                 *connection
	retryCount           int
	retryTimer           Timer
	retryGen             uint64
	streamID             int
	lastStreamIDReported int
	ready                chan struct{}
	readyClosed          bool
}

// NewClient creates a new push receiver client
func NewClient(config Config, opts ...ClientOption) *Client {
	if config.VapidKey == "" {
		config.VapidKey = constants.DefaultVapidKey
	}

	c := &Client{
		config:               config,
		credentials:          config.Credentials,
		persistentIDs:        dedup(config.PersistentIDs),
		lastStreamIDReported: -1,
		ready:                make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
		if c.debugMode {
			if logger, err := logging.New(true); err == nil {
				c.logger = logger
			}
		}
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.dial == nil {
		c.dial = dialTLS
	}
	if c.afterFunc == nil {
		c.afterFunc = defaultAfterFunc
	}
	if c.registrar == nil {
		rc := register.DefaultConfig()
		rc.BundleID = config.BundleID
		rc.SenderID = config.SenderID
		rc.VapidKey = config.VapidKey
		rc.Logger = c.logger.Named("register")
		c.registrar = register.NewService(rc)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.metrics.SetState(int(StateIdle))

	return c
}

// On registers handler for events of type t. The returned function removes it.
func (c *Client) On(t EventType, handler Handler) (off func()) {
	return c.observers.add(t, handler)
}

// State returns the current session state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Credentials returns the credentials in use, nil before registration
func (c *Client) Credentials() *register.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credentials
}

// PersistentIDs returns the ids of messages received since the last login
func (c *Client) PersistentIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.persistentIDs...)
}

// Register runs the registration flow and replaces the stored credentials,
// emitting CredentialsChanged. An open session keeps its login until the next
// reconnect.
func (c *Client) Register(ctx context.Context) (*register.Credentials, error) {
	current := c.Credentials()
	creds, err := c.registrar.Register(ctx, current)
	if err != nil {
		return nil, err
	}
	if err := c.replaceCredentials(current, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// CheckIn refreshes the device check-in without touching the session
func (c *Client) CheckIn(ctx context.Context) (*register.GCMCredentials, error) {
	creds := c.Credentials()
	if creds == nil {
		return nil, ErrNoCredentials
	}
	return c.registrar.CheckIn(ctx, &creds.GCM)
}

// Connect registers or checks in, opens the session and waits until the
// server accepted the login. Connection failures are retried in the
// background; registration and check-in failures are returned. Calling
// Connect on an open or opening session only waits.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDestroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateRegistering, StateConnecting, StateAuthenticating:
		ready := c.ready
		c.mu.Unlock()
		return c.waitReady(ctx, ready)
	}

	c.cancelRetry()
	c.setState(StateConnecting)
	ready := c.ready
	c.mu.Unlock()

	// requests stop on either the caller's or the client's cancellation
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	if err := c.prepareCredentials(opCtx); err != nil {
		c.mu.Lock()
		if c.state != StateDestroyed {
			c.setState(StateIdle)
		}
		c.mu.Unlock()
		if errors.Is(err, ErrDestroyed) || c.ctx.Err() != nil {
			return ErrDestroyed
		}
		return err
	}

	c.open(opCtx)

	return c.waitReady(ctx, ready)
}

// Destroy closes the session for good. It cancels timers and pending HTTP
// requests and never reconnects.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.setState(StateDestroyed)
	c.cancelRetry()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.close()
	}
	c.logger.Info("Client destroyed")
}

func (c *Client) waitReady(ctx context.Context, ready chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrDestroyed
	}
}

// prepareCredentials registers when there are no credentials, or they belong
// to another sender, and checks in otherwise
func (c *Client) prepareCredentials(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	current := c.credentials
	needsRegister := current == nil || (current.SenderID != "" && current.SenderID != c.config.SenderID)
	if needsRegister {
		c.setState(StateRegistering)
	}
	c.mu.Unlock()

	if needsRegister {
		c.logger.Infow("Registering", "senderId", c.config.SenderID)
		creds, err := c.registrar.Register(ctx, current)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		return c.replaceCredentials(current, creds)
	}

	gcm, err := c.registrar.CheckIn(ctx, &current.GCM)
	if err != nil {
		return fmt.Errorf("checkin failed: %w", err)
	}
	if gcm.AndroidID != current.GCM.AndroidID || gcm.SecurityToken != current.GCM.SecurityToken {
		c.logger.Infow("Device identity rotated", "androidId", gcm.AndroidID)
		return c.replaceCredentials(current, current.WithGCM(*gcm))
	}
	return nil
}

func (c *Client) replaceCredentials(old, creds *register.Credentials) error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.credentials = creds
	c.mu.Unlock()

	c.emit(EventCredentialsChanged, &CredentialsChangedEvent{Old: old, New: creds})
	return nil
}

// open dials, starts the read loop and sends the login request. Failures go
// through fail and end in a scheduled reconnect.
func (c *Client) open(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDestroyed || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.setState(StateConnecting)
	c.mu.Unlock()

	c.logger.Debugw("Connecting", "addr", constants.MCSAddr)
	netConn, err := c.dial(ctx)
	if err != nil {
		c.fail(nil, &TransportError{Op: "dial", Err: err})
		return
	}

	conn := newConnection(netConn, c.logger)
	conn.heartbeat = newHeartbeat(c.config.HeartbeatInterval, c.afterFunc,
		func() { c.sendHeartbeatPing(conn) },
		func() { c.fail(conn, ErrHeartbeatTimeout) },
	)

	c.mu.Lock()
	if c.state == StateDestroyed || c.conn != nil {
		c.mu.Unlock()
		conn.logger.Debug("Another connection is current, closing")
		conn.close()
		return
	}
	c.conn = conn
	c.retryCount = 0
	c.lastStreamIDReported = -1
	c.setState(StateAuthenticating)
	creds := c.credentials
	persistentIDs := append([]string(nil), c.persistentIDs...)
	c.mu.Unlock()

	conn.logger.Info("Connected")
	c.emit(EventConnected, &ConnectedEvent{ConnID: conn.id})

	// a server that never answers the login is detected as well
	conn.heartbeat.restart()
	go c.readLoop(conn)

	login, err := buildLoginRequest(creds, persistentIDs, c.config.HeartbeatInterval)
	if err != nil {
		c.fail(conn, err)
		return
	}
	conn.logger.Debugw("Sending login request", "persistentIds", len(persistentIDs))
	if err := conn.writeFrame(constants.LoginRequestTag, login, true); err != nil {
		c.fail(conn, &TransportError{Op: "write", Err: err})
	}
}

// fail tears conn down and schedules a reconnect after min(attempt, 15)
// seconds. Calls for a connection that is no longer current are ignored.
func (c *Client) fail(conn *connection, cause error) {
	c.mu.Lock()
	if c.state == StateDestroyed || conn != c.conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.readyClosed {
		c.ready = make(chan struct{})
		c.readyClosed = false
	}

	c.retryCount++
	timeout := c.retryCount
	if timeout > constants.MaxRetryTimeout {
		timeout = constants.MaxRetryTimeout
	}
	delay := time.Duration(timeout) * time.Second

	c.retryGen++
	gen := c.retryGen
	c.setState(StateReconnecting)
	c.retryTimer = c.afterFunc(delay, func() { c.reconnect(gen) })
	attempt := c.retryCount
	c.mu.Unlock()

	if conn != nil {
		conn.close()
	}

	c.logger.Warnw("Disconnected, retrying", "cause", cause, "attempt", attempt, "delay", delay)
	c.metrics.Reconnect()
	c.emit(EventDisconnected, &DisconnectedEvent{Cause: cause})
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if c.state != StateReconnecting || gen != c.retryGen {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	// Connect waits for this attempt instead of starting another one
	c.setState(StateConnecting)
	c.mu.Unlock()

	if err := c.prepareCredentials(c.ctx); err != nil {
		if errors.Is(err, ErrDestroyed) {
			return
		}
		c.fail(nil, &TransportError{Op: "checkin", Err: err})
		return
	}
	c.open(c.ctx)
}

// cancelRetry stops a pending reconnect, c.mu must be held
func (c *Client) cancelRetry() {
	c.retryGen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// setState records s, c.mu must be held
func (c *Client) setState(s State) {
	if c.state != s {
		c.logger.Debugw("State changed", "from", c.state.String(), "to", s.String())
	}
	c.state = s
	c.metrics.SetState(int(s))
}

// readLoop continuously reads frames from conn until it fails
func (c *Client) readLoop(conn *connection) {
	for {
		msg, err := conn.reader.ReadMessage()
		if err != nil {
			var perr *parser.ParseError
			if !errors.As(err, &perr) {
				err = &TransportError{Op: "read", Err: err}
			}
			c.fail(conn, err)
			return
		}
		if !c.handleMessage(conn, msg) {
			return
		}
	}
}

// handleMessage processes a received frame and reports whether the
// connection is still current
func (c *Client) handleMessage(conn *connection, msg *parser.Message) bool {
	c.mu.Lock()
	current := conn == c.conn
	if current && handledTag(msg.Tag) {
		c.streamID++
	}
	c.mu.Unlock()
	if !current {
		return false
	}

	// any frame resets the client side heartbeat timeout
	conn.heartbeat.restart()
	c.metrics.FrameReceived(msg.Tag)

	switch msg.Tag {
	case constants.LoginResponseTag:
		resp := msg.Object.(*pb.LoginResponse)
		if resp.Error != nil {
			conn.logger.Warnw("Login response carries an error", "code", resp.Error.Code)
		}
		conn.logger.Info("Received LoginResponse - session ready")
		c.mu.Lock()
		// the ids were just sent with the login request
		c.persistentIDs = nil
		c.setState(StateReady)
		if !c.readyClosed {
			close(c.ready)
			c.readyClosed = true
		}
		c.mu.Unlock()
		c.emit(EventReady, nil)

	case constants.DataMessageStanzaTag:
		c.handleDataMessage(conn, msg.Object.(*pb.DataMessageStanza))

	case constants.HeartbeatPingTag:
		conn.logger.Debug("Received HeartbeatPing from server")
		c.emit(EventHeartbeat, &HeartbeatEvent{Ping: true})
		c.sendHeartbeatAck(conn, msg.Object.(*pb.HeartbeatPing))

	case constants.HeartbeatAckTag:
		conn.logger.Debug("Received HeartbeatAck from server")
		c.emit(EventHeartbeat, &HeartbeatEvent{})

	case constants.CloseTag:
		conn.logger.Info("Received Close message from server")
		c.fail(conn, ErrServerClose)
		return false

	case constants.LoginRequestTag:
		conn.logger.Debug("Received LoginRequest (ignoring)")

	case constants.IqStanzaTag:
		conn.logger.Debugw("Received IqStanza (ignoring)", "id", msg.Object.(*pb.IqStanza).ID)

	default:
		conn.logger.Warnw("Received unhandled message tag", "tag", msg.Tag)
	}

	return true
}

// handledTag reports whether frames of tag count towards the stream id
func handledTag(tag uint8) bool {
	switch tag {
	case constants.LoginResponseTag, constants.DataMessageStanzaTag,
		constants.HeartbeatPingTag, constants.HeartbeatAckTag, constants.CloseTag,
		constants.LoginRequestTag, constants.IqStanzaTag:
		return true
	}
	return false
}

// handleDataMessage decrypts msg and delivers it once per persistent id
func (c *Client) handleDataMessage(conn *connection, msg *pb.DataMessageStanza) {
	persistentID := msg.PersistentID

	c.mu.Lock()
	if contains(c.persistentIDs, persistentID) {
		c.mu.Unlock()
		conn.logger.Debugw("Duplicate message, ignoring", "persistentId", persistentID)
		c.metrics.MessageDropped("duplicate")
		return
	}
	creds := c.credentials
	c.mu.Unlock()

	message, err := decrypt(msg, creds)
	if err != nil {
		if ece.IsDroppable(err) {
			conn.logger.Warnw("Message dropped as it could not be decrypted", "persistentId", persistentID, "error", err)
			c.metrics.MessageDropped("decrypt")
			return
		}
		c.metrics.MessageDropped("invalid")
		c.emit(EventError, fmt.Errorf("message %s: %w", persistentID, err))
		return
	}

	// Maintain persistentIDs updated with the very last received value
	c.mu.Lock()
	if persistentID != "" {
		c.persistentIDs = append(c.persistentIDs, persistentID)
	}
	c.mu.Unlock()

	c.metrics.MessageDelivered()
	c.emit(EventMessageReceived, &MessageEvent{
		Message:      message,
		PersistentID: persistentID,
		From:         msg.From,
	})
}

func decrypt(msg *pb.DataMessageStanza, creds *register.Credentials) ([]byte, error) {
	if creds == nil {
		return nil, ErrNoCredentials
	}
	keys, err := ece.NewKeys(creds.Keys.PrivateKey, creds.Keys.AuthSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid stored keys: %w", err)
	}
	return ece.Decrypt(msg, keys)
}

// sendHeartbeatAck answers a server ping, echoing its status
func (c *Client) sendHeartbeatAck(conn *connection, ping *pb.HeartbeatPing) {
	c.mu.Lock()
	ack := &pb.HeartbeatAck{
		LastStreamIDReceived: c.takeStreamID(),
		Status:               ping.Status,
	}
	c.mu.Unlock()

	if err := conn.writeFrame(constants.HeartbeatAckTag, ack, false); err != nil {
		c.fail(conn, &TransportError{Op: "write", Err: err})
	}
}

// sendHeartbeatPing is called by the heartbeat timer
func (c *Client) sendHeartbeatPing(conn *connection) {
	c.mu.Lock()
	if conn != c.conn {
		c.mu.Unlock()
		return
	}
	ping := &pb.HeartbeatPing{
		LastStreamIDReceived: c.takeStreamID(),
	}
	c.mu.Unlock()

	if err := conn.writeFrame(constants.HeartbeatPingTag, ping, false); err != nil {
		c.fail(conn, &TransportError{Op: "write", Err: err})
		return
	}
	c.metrics.HeartbeatSent()
	conn.heartbeat.restart()
}

// takeStreamID returns the stream id when it changed since the last report,
// c.mu must be held
func (c *Client) takeStreamID() *int32 {
	if c.lastStreamIDReported == c.streamID {
		return nil
	}
	c.lastStreamIDReported = c.streamID
	id := int32(c.streamID)
	return &id
}

// emit delivers an event to the observers, never with c.mu held
func (c *Client) emit(t EventType, data interface{}) {
	c.logger.Debugw("Emitting event", "event", t.String())
	c.observers.emit(Event{Type: t, Data: data})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// dedup drops repeated ids keeping the first occurrence
func dedup(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

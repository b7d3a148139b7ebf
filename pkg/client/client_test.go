package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/ece"
	"github.com/palbooo/fcm-receiver-go/internal/fcm"
	"github.com/palbooo/fcm-receiver-go/internal/metrics"
	"github.com/palbooo/fcm-receiver-go/internal/parser"
	"github.com/palbooo/fcm-receiver-go/internal/utils"
	"github.com/palbooo/fcm-receiver-go/pkg/register"
	pb "github.com/palbooo/fcm-receiver-go/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

const waitTimeout = 2 * time.Second

// fakeClock records timers so tests decide when they fire
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// pending returns the durations of the armed timers
func (c *fakeClock) pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.d)
		}
	}
	return out
}

// fire runs the latest armed timer of duration d on the calling goroutine
func (c *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()

	c.mu.Lock()
	var timer *fakeTimer
	for i := len(c.timers) - 1; i >= 0; i-- {
		if ft := c.timers[i]; !ft.stopped && !ft.fired && ft.d == d {
			timer = ft
			break
		}
	}
	if timer != nil {
		timer.fired = true
	}
	c.mu.Unlock()

	require.NotNil(t, timer, "no timer armed for %v, pending %v", d, c.pending())
	timer.f()
}

// fakeServer is the MCS side of a net.Pipe
type fakeServer struct {
	t           *testing.T
	conn        net.Conn
	frames      chan *parser.Message
	sentVersion bool
}

func newFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	s := &fakeServer{t: t, conn: conn, frames: make(chan *parser.Message, 64)}
	go func() {
		defer close(s.frames)
		reader := parser.NewReader(conn, nil)
		for {
			msg, err := reader.ReadMessage()
			if err != nil {
				return
			}
			s.frames <- msg
		}
	}()
	return s
}

func (s *fakeServer) send(tag uint8, msg pb.Message) {
	s.t.Helper()

	frame, err := parser.EncodeFrame(tag, msg, !s.sentVersion)
	require.NoError(s.t, err)
	s.sentVersion = true

	_, err = s.conn.Write(frame)
	require.NoError(s.t, err)
}

func (s *fakeServer) expect(tag uint8) pb.Message {
	s.t.Helper()

	select {
	case msg, ok := <-s.frames:
		require.True(s.t, ok, "connection closed while waiting for tag %d", tag)
		require.Equal(s.t, tag, msg.Tag)
		return msg.Object
	case <-time.After(waitTimeout):
		s.t.Fatalf("timed out waiting for tag %d", tag)
		return nil
	}
}

func (s *fakeServer) login() *pb.LoginRequest {
	s.t.Helper()

	req := s.expect(constants.LoginRequestTag).(*pb.LoginRequest)
	s.send(constants.LoginResponseTag, &pb.LoginResponse{ID: "chrome-63.0.3234.0"})
	return req
}

func (s *fakeServer) waitClosed() {
	s.t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-s.frames:
			if !ok {
				return
			}
		case <-deadline:
			s.t.Fatal("connection was not closed")
		}
	}
}

// pipeDialer hands out in-memory connections, or fails with err
type pipeDialer struct {
	t       *testing.T
	mu      sync.Mutex
	err     error
	servers chan *fakeServer
}

func (d *pipeDialer) dial(context.Context) (net.Conn, error) {
	d.mu.Lock()
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	client, server := net.Pipe()
	d.servers <- newFakeServer(d.t, server)
	return client, nil
}

func (d *pipeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type fakeRegistrar struct {
	mu            sync.Mutex
	creds         *register.Credentials
	registerErr   error
	checkinErr    error
	rotateTo      string
	registerCalls int
	checkinCalls  int

	// checkinGate holds CheckIn until closed, each call is announced on
	// checkinStarted first
	checkinGate    chan struct{}
	checkinStarted chan struct{}
}

func (r *fakeRegistrar) Register(_ context.Context, _ *register.Credentials) (*register.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registerCalls++
	if r.registerErr != nil {
		return nil, r.registerErr
	}
	creds := *r.creds
	return &creds, nil
}

func (r *fakeRegistrar) CheckIn(ctx context.Context, gcm *register.GCMCredentials) (*register.GCMCredentials, error) {
	r.mu.Lock()
	gate, started := r.checkinGate, r.checkinStarted
	r.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkinCalls++
	if r.checkinErr != nil {
		return nil, r.checkinErr
	}
	out := *gcm
	if r.rotateTo != "" {
		out.AndroidID = r.rotateTo
	}
	return &out, nil
}

func (r *fakeRegistrar) calls() (registerCalls, checkinCalls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerCalls, r.checkinCalls
}

type harness struct {
	t         *testing.T
	client    *Client
	clock     *fakeClock
	dialer    *pipeDialer
	registrar *fakeRegistrar
	registry  *prometheus.Registry
	creds     *register.Credentials
	events    chan Event
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()

	keys, err := fcm.CreateKeys()
	require.NoError(t, err)

	h := &harness{
		t:        t,
		clock:    &fakeClock{},
		dialer:   &pipeDialer{t: t, servers: make(chan *fakeServer, 8)},
		registry: prometheus.NewRegistry(),
		creds: &register.Credentials{
			Keys: register.Keys{PrivateKey: keys.PrivateKey, PublicKey: keys.PublicKey, AuthSecret: keys.AuthSecret},
			GCM: register.GCMCredentials{
				AndroidID:     "4012345678901234567",
				SecurityToken: "1234567890123456789",
				Token:         "gcm-token",
			},
			FCM:      register.FCMSubscription{Token: "fcm-token", PushSet: "push-set"},
			SenderID: "123456789",
		},
		events: make(chan Event, 256),
	}
	h.registrar = &fakeRegistrar{creds: h.creds}

	config := NewConfig("123456789")
	config.HeartbeatInterval = 0
	if configure != nil {
		configure(&config)
	}

	h.client = NewClient(config,
		WithDialer(h.dialer.dial),
		WithRegisterService(h.registrar),
		WithAfterFunc(h.clock.AfterFunc),
		WithMetrics(metrics.New(metrics.WithRegistry(h.registry))),
	)
	t.Cleanup(h.client.Destroy)

	for _, et := range []EventType{
		EventMessageReceived, EventCredentialsChanged, EventConnected,
		EventDisconnected, EventReady, EventHeartbeat, EventError,
	} {
		h.client.On(et, func(ev Event) { h.events <- ev })
	}

	return h
}

func (h *harness) accept() *fakeServer {
	h.t.Helper()

	select {
	case s := <-h.dialer.servers:
		return s
	case <-time.After(waitTimeout):
		h.t.Fatal("client did not dial")
		return nil
	}
}

// connect runs Connect against a fresh server and completes the login
func (h *harness) connect() *fakeServer {
	h.t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	srv := h.accept()
	srv.login()

	select {
	case err := <-errCh:
		require.NoError(h.t, err)
	case <-time.After(waitTimeout):
		h.t.Fatal("Connect did not return")
	}
	return srv
}

// next returns the next event of type et, skipping others
func (h *harness) next(et EventType) Event {
	h.t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == et {
				return ev
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s", et)
			return Event{}
		}
	}
}

func (h *harness) nextAny() Event {
	h.t.Helper()

	select {
	case ev := <-h.events:
		return ev
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for an event")
		return Event{}
	}
}

// counter reads a counter from the registry, labels are name/value pairs
func (h *harness) counter(name string, labels ...string) float64 {
	h.t.Helper()

	families, err := h.registry.Gather()
	require.NoError(h.t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, m := range family.GetMetric() {
			pairs := m.GetLabel()
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, pair := range pairs {
					if pair.GetName() == labels[i] && pair.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// drain returns the types of the events emitted so far
func (h *harness) drain() []EventType {
	var out []EventType
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func (h *harness) message(persistentID, body string) *pb.DataMessageStanza {
	h.t.Helper()

	pub, err := utils.DecodeAnyBase64(h.creds.Keys.PublicKey)
	require.NoError(h.t, err)
	secret, err := utils.DecodeAnyBase64(h.creds.Keys.AuthSecret)
	require.NoError(h.t, err)

	payload, err := ece.Encrypt([]byte(body), pub, secret, 0, 0)
	require.NoError(h.t, err)

	return &pb.DataMessageStanza{
		ID:           "0:" + persistentID,
		From:         "123456789",
		Category:     constants.FallbackBundleID,
		PersistentID: persistentID,
		AppData:      payload.AppData(),
		RawData:      payload.RawData,
	}
}

func TestConnectRegistersAndLogsIn(t *testing.T) {
	h := newHarness(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	srv := h.accept()
	login := srv.expect(constants.LoginRequestTag).(*pb.LoginRequest)
	assert.Equal(t, "4012345678901234567", login.User)
	assert.Equal(t, "1234567890123456789", login.AuthToken)
	assert.Nil(t, login.HeartbeatStat)
	assert.Equal(t, StateAuthenticating, h.client.State())

	srv.send(constants.LoginResponseTag, &pb.LoginResponse{ID: "chrome-63.0.3234.0"})
	require.NoError(t, <-errCh)

	assert.Equal(t, StateReady, h.client.State())
	assert.Equal(t, h.creds, h.client.Credentials())
	assert.Empty(t, h.clock.pending())

	registerCalls, checkinCalls := h.registrar.calls()
	assert.Equal(t, 1, registerCalls)
	assert.Equal(t, 0, checkinCalls)

	ev := h.nextAny()
	require.Equal(t, EventCredentialsChanged, ev.Type)
	changed := ev.Data.(*CredentialsChangedEvent)
	assert.Nil(t, changed.Old)
	assert.Equal(t, h.creds, changed.New)

	assert.Equal(t, EventConnected, h.nextAny().Type)
	assert.Equal(t, EventReady, h.nextAny().Type)

	// connecting again while ready does nothing
	require.NoError(t, h.client.Connect(context.Background()))
	registerCalls, _ = h.registrar.calls()
	assert.Equal(t, 1, registerCalls)
}

func TestConnectReturnsRegistrationError(t *testing.T) {
	h := newHarness(t, nil)
	h.registrar.registerErr = register.ErrRegistrationFailed

	err := h.client.Connect(context.Background())
	assert.True(t, errors.Is(err, register.ErrRegistrationFailed), "got %v", err)
	assert.Equal(t, StateIdle, h.client.State())
	assert.Empty(t, h.dialer.servers)
}

func TestLoginCarriesPersistentIDs(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.PersistentIDs = []string{"0:1", "0:2", "0:1"}
		c.HeartbeatInterval = time.Minute
	})
	h.client.credentials = h.creds

	assert.Equal(t, []string{"0:1", "0:2"}, h.client.PersistentIDs())

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	srv := h.accept()
	login := srv.login()
	require.NoError(t, <-errCh)

	want := &pb.LoginRequest{
		ID:                   constants.ClientID,
		Domain:               constants.MCSDomain,
		User:                 "4012345678901234567",
		Resource:             "4012345678901234567",
		AuthToken:            "1234567890123456789",
		DeviceID:             "android-" + strconv.FormatUint(4012345678901234567, 16),
		Setting:              []*pb.Setting{{Name: "new_vc", Value: "1"}},
		ReceivedPersistentID: []string{"0:1", "0:2"},
		AdaptiveHeartbeat:    proto.Bool(false),
		HeartbeatStat:        &pb.HeartbeatStat{Timeout: true, IntervalMs: 60000},
		UseRmq2:              proto.Bool(true),
		AuthService:          func() *pb.AuthService { v := pb.LoginRequestAndroidID; return &v }(),
		NetworkType:          proto.Int32(1),
	}
	if diff := cmp.Diff(want, login); diff != "" {
		t.Errorf("login request mismatch (-want +got):\n%v", diff)
	}

	// the server acknowledged them with the login
	assert.Empty(t, h.client.PersistentIDs())

	registerCalls, checkinCalls := h.registrar.calls()
	assert.Equal(t, 0, registerCalls)
	assert.Equal(t, 1, checkinCalls)
	assert.NotContains(t, h.drain(), EventCredentialsChanged)
}

func TestSenderMismatchRegistersAgain(t *testing.T) {
	stale := &register.Credentials{
		GCM:      register.GCMCredentials{AndroidID: "42", SecurityToken: "7"},
		SenderID: "987654321",
	}
	h := newHarness(t, func(c *Config) { c.Credentials = stale })

	h.connect()

	registerCalls, _ := h.registrar.calls()
	assert.Equal(t, 1, registerCalls)

	changed := h.next(EventCredentialsChanged).Data.(*CredentialsChangedEvent)
	assert.Same(t, stale, changed.Old)
	assert.Equal(t, "123456789", changed.New.SenderID)
}

func TestCheckInRotatesIdentity(t *testing.T) {
	h := newHarness(t, nil)
	h.client.credentials = h.creds
	h.registrar.rotateTo = "99"

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	login := h.accept().login()
	require.NoError(t, <-errCh)
	assert.Equal(t, "99", login.User)

	changed := h.next(EventCredentialsChanged).Data.(*CredentialsChangedEvent)
	assert.Equal(t, "4012345678901234567", changed.Old.GCM.AndroidID)
	assert.Equal(t, "99", changed.New.GCM.AndroidID)
	assert.Equal(t, h.creds.Keys, changed.New.Keys)
	assert.Equal(t, "99", h.client.Credentials().GCM.AndroidID)
}

func TestDeliversMessagesOnce(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	first := h.message("0:1", `{"notification":{"title":"hello"}}`)
	srv.send(constants.DataMessageStanzaTag, first)
	srv.send(constants.DataMessageStanzaTag, first)
	srv.send(constants.DataMessageStanzaTag, h.message("0:2", `{"data":{"n":"2"}}`))

	msg := h.next(EventMessageReceived).Data.(*MessageEvent)
	assert.Equal(t, "0:1", msg.PersistentID)
	assert.Equal(t, "123456789", msg.From)
	assert.JSONEq(t, `{"notification":{"title":"hello"}}`, string(msg.Message))

	msg = h.next(EventMessageReceived).Data.(*MessageEvent)
	assert.Equal(t, "0:2", msg.PersistentID)
	assert.NotContains(t, h.drain(), EventMessageReceived)

	assert.Equal(t, []string{"0:1", "0:2"}, h.client.PersistentIDs())
	assert.Equal(t, float64(1), h.counter("push_receiver_messages_dropped_total", "reason", "duplicate"))
}

func TestDropsUndecryptableMessages(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	srv.send(constants.DataMessageStanzaTag, &pb.DataMessageStanza{
		From:         "123456789",
		Category:     constants.FallbackBundleID,
		PersistentID: "0:bare",
		RawData:      []byte{1, 2, 3},
	})
	srv.send(constants.DataMessageStanzaTag, h.message("0:text", "not json"))
	srv.send(constants.DataMessageStanzaTag, h.message("0:ok", `{}`))

	ev := h.next(EventError)
	err, ok := ev.Data.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, ece.ErrInvalidPayload), "got %v", err)

	msg := h.next(EventMessageReceived).Data.(*MessageEvent)
	assert.Equal(t, "0:ok", msg.PersistentID)
	assert.Equal(t, []string{"0:ok"}, h.client.PersistentIDs())

	expected := `
# HELP push_receiver_messages_dropped_total Data messages not delivered, by reason
# TYPE push_receiver_messages_dropped_total counter
push_receiver_messages_dropped_total{reason="decrypt"} 1
push_receiver_messages_dropped_total{reason="invalid"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "push_receiver_messages_dropped_total"))
}

func TestHeartbeatPingReportsStreamID(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HeartbeatInterval = time.Minute })
	srv := h.connect()

	assert.ElementsMatch(t, []time.Duration{time.Minute, 2 * time.Minute}, h.clock.pending())

	// the login response is the first frame of the stream
	h.clock.fire(t, time.Minute)
	ping := srv.expect(constants.HeartbeatPingTag).(*pb.HeartbeatPing)
	require.NotNil(t, ping.LastStreamIDReceived)
	assert.Equal(t, int32(1), *ping.LastStreamIDReceived)

	h.clock.fire(t, time.Minute)
	ping = srv.expect(constants.HeartbeatPingTag).(*pb.HeartbeatPing)
	assert.Nil(t, ping.LastStreamIDReceived)

	srv.send(constants.HeartbeatAckTag, &pb.HeartbeatAck{})
	assert.False(t, h.next(EventHeartbeat).Data.(*HeartbeatEvent).Ping)

	h.clock.fire(t, time.Minute)
	ping = srv.expect(constants.HeartbeatPingTag).(*pb.HeartbeatPing)
	require.NotNil(t, ping.LastStreamIDReceived)
	assert.Equal(t, int32(2), *ping.LastStreamIDReceived)

	assert.Equal(t, float64(3), h.counter("push_receiver_heartbeats_sent_total"))
}

func TestServerPingIsAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	srv.send(constants.HeartbeatPingTag, &pb.HeartbeatPing{Status: proto.Int64(7)})
	assert.True(t, h.next(EventHeartbeat).Data.(*HeartbeatEvent).Ping)

	ack := srv.expect(constants.HeartbeatAckTag).(*pb.HeartbeatAck)
	require.NotNil(t, ack.LastStreamIDReceived)
	assert.Equal(t, int32(2), *ack.LastStreamIDReceived)
	require.NotNil(t, ack.Status)
	assert.Equal(t, int64(7), *ack.Status)
}

func TestUnhandledFramesKeepStreamID(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	srv.send(constants.StreamErrorStanzaTag, &pb.StreamErrorStanza{Type: "internal-server-error"})
	srv.send(constants.HeartbeatPingTag, &pb.HeartbeatPing{})

	ack := srv.expect(constants.HeartbeatAckTag).(*pb.HeartbeatAck)
	require.NotNil(t, ack.LastStreamIDReceived)
	assert.Equal(t, int32(2), *ack.LastStreamIDReceived)
	assert.Equal(t, StateReady, h.client.State())
}

func TestHeartbeatTimeoutReconnects(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HeartbeatInterval = time.Minute })
	srv := h.connect()

	h.clock.fire(t, 2*time.Minute)

	ev := h.next(EventDisconnected).Data.(*DisconnectedEvent)
	assert.True(t, errors.Is(ev.Cause, ErrHeartbeatTimeout), "got %v", ev.Cause)
	assert.Equal(t, StateReconnecting, h.client.State())
	assert.Equal(t, []time.Duration{time.Second}, h.clock.pending())
	srv.waitClosed()

	h.clock.fire(t, time.Second)
	h.accept().login()
	h.next(EventReady)
	assert.Equal(t, StateReady, h.client.State())

	_, checkinCalls := h.registrar.calls()
	assert.Equal(t, 1, checkinCalls)
}

func TestServerCloseReconnects(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	srv.send(constants.CloseTag, &pb.Close{})

	ev := h.next(EventDisconnected).Data.(*DisconnectedEvent)
	assert.True(t, errors.Is(ev.Cause, ErrServerClose), "got %v", ev.Cause)
	srv.waitClosed()
}

func TestReconnectBackoff(t *testing.T) {
	h := newHarness(t, nil)
	h.client.credentials = h.creds
	h.dialer.setErr(errors.New("network is unreachable"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.client.Connect(ctx), context.DeadlineExceeded)

	ev := h.next(EventDisconnected).Data.(*DisconnectedEvent)
	var terr *TransportError
	require.True(t, errors.As(ev.Cause, &terr))
	assert.Equal(t, "dial", terr.Op)
	assert.Equal(t, StateReconnecting, h.client.State())

	delay := time.Second
	for attempt := 2; attempt <= 17; attempt++ {
		require.Equal(t, []time.Duration{delay}, h.clock.pending(), "attempt %d", attempt)
		h.clock.fire(t, delay)

		want := attempt
		if want > constants.MaxRetryTimeout {
			want = constants.MaxRetryTimeout
		}
		delay = time.Duration(want) * time.Second
	}
	assert.Equal(t, []time.Duration{15 * time.Second}, h.clock.pending())

	h.dialer.setErr(nil)
	h.clock.fire(t, 15*time.Second)
	srv := h.accept()
	srv.login()
	h.next(EventReady)

	// a connection that was established resets the backoff
	require.NoError(t, srv.conn.Close())
	ev = h.next(EventDisconnected).Data.(*DisconnectedEvent)
	require.True(t, errors.As(ev.Cause, &terr))
	assert.Equal(t, "read", terr.Op)
	assert.Equal(t, []time.Duration{time.Second}, h.clock.pending())

	assert.Equal(t, float64(18), h.counter("push_receiver_reconnects_total"))
}

func TestCheckInFailureSchedulesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	h.registrar.mu.Lock()
	h.registrar.checkinErr = errors.New("checkin unavailable")
	h.registrar.mu.Unlock()

	require.NoError(t, srv.conn.Close())
	h.next(EventDisconnected)

	h.clock.fire(t, time.Second)
	ev := h.next(EventDisconnected).Data.(*DisconnectedEvent)
	var terr *TransportError
	require.True(t, errors.As(ev.Cause, &terr))
	assert.Equal(t, "checkin", terr.Op)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.clock.pending())
}

func TestConnectWaitsForRunningReconnect(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	gate := make(chan struct{})
	started := make(chan struct{}, 4)
	h.registrar.mu.Lock()
	h.registrar.checkinGate = gate
	h.registrar.checkinStarted = started
	h.registrar.mu.Unlock()

	require.NoError(t, srv.conn.Close())
	h.next(EventDisconnected)
	srv.waitClosed()
	require.Equal(t, []time.Duration{time.Second}, h.clock.pending())

	fired := make(chan struct{})
	go func() {
		defer close(fired)
		h.clock.fire(t, time.Second)
	}()

	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("reconnect did not check in")
	}
	assert.Equal(t, StateConnecting, h.client.State())

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	select {
	case <-started:
		t.Fatal("Connect checked in while a reconnect was running")
	case err := <-errCh:
		t.Fatalf("Connect returned before the session was ready: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	next := h.accept()
	next.login()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return")
	}
	<-fired

	assert.Equal(t, StateReady, h.client.State())
	assert.Empty(t, h.dialer.servers)
	_, checkinCalls := h.registrar.calls()
	assert.Equal(t, 1, checkinCalls)
}

func TestOpenKeepsCurrentConnection(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	h.client.open(context.Background())
	assert.Empty(t, h.dialer.servers)
	assert.Equal(t, StateReady, h.client.State())

	srv.send(constants.HeartbeatPingTag, &pb.HeartbeatPing{})
	srv.expect(constants.HeartbeatAckTag)
}

func TestRegisterReplacesCredentials(t *testing.T) {
	h := newHarness(t, nil)
	old := &register.Credentials{
		GCM:      register.GCMCredentials{AndroidID: "42", SecurityToken: "7"},
		SenderID: "123456789",
	}
	h.client.credentials = old

	creds, err := h.client.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.creds, creds)
	assert.Same(t, creds, h.client.Credentials())

	changed := h.next(EventCredentialsChanged).Data.(*CredentialsChangedEvent)
	assert.Same(t, old, changed.Old)
	assert.Same(t, creds, changed.New)
	assert.Equal(t, StateIdle, h.client.State())
}

func TestDestroy(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HeartbeatInterval = time.Minute })
	srv := h.connect()

	h.client.Destroy()
	h.client.Destroy()

	assert.Equal(t, StateDestroyed, h.client.State())
	assert.Empty(t, h.clock.pending())
	srv.waitClosed()

	assert.ErrorIs(t, h.client.Connect(context.Background()), ErrDestroyed)
}

func TestDestroyCancelsReconnect(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.connect()

	require.NoError(t, srv.conn.Close())
	h.next(EventDisconnected)
	require.Len(t, h.clock.pending(), 1)

	h.client.Destroy()
	assert.Empty(t, h.clock.pending())
	assert.Equal(t, StateDestroyed, h.client.State())
}

func TestCheckInWithoutCredentials(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.client.CheckIn(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestOnReturnsRemover(t *testing.T) {
	var o observers
	var got []string

	off := o.add(EventReady, func(Event) { got = append(got, "first") })
	o.add(EventReady, func(Event) { got = append(got, "second") })

	o.emit(Event{Type: EventReady})
	off()
	off()
	o.emit(Event{Type: EventReady})
	o.emit(Event{Type: EventConnected})

	assert.Equal(t, []string{"first", "second", "second"}, got)
}

package client

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"github.com/palbooo/fcm-receiver-go/internal/parser"
	"github.com/palbooo/fcm-receiver-go/pkg/register"
	pb "github.com/palbooo/fcm-receiver-go/proto"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// connection is one socket with its parser and heartbeat. It is replaced
// wholesale on reconnect, callbacks holding an old one are stale.
type connection struct {
	id        string
	conn      net.Conn
	reader    *parser.Reader
	heartbeat *heartbeat
	logger    *zap.SugaredLogger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConnection(conn net.Conn, logger *zap.SugaredLogger) *connection {
	id := uuid.New().String()
	logger = logger.With("conn", id)

	return &connection{
		id:     id,
		conn:   conn,
		reader: parser.NewReader(conn, logger),
		logger: logger,
	}
}

// writeFrame encodes msg and writes it in one call
func (c *connection) writeFrame(tag uint8, msg pb.Message, withVersion bool) error {
	frame, err := parser.EncodeFrame(tag, msg, withVersion)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout)); err != nil {
		return err
	}
	n, err := c.conn.Write(frame)
	if err != nil {
		return err
	}
	c.logger.Debugw("Sent frame", "tag", tag, "bytes", n)
	return nil
}

// close stops the heartbeat and closes the socket, the read loop ends with
// an error afterwards
func (c *connection) close() {
	if c.heartbeat != nil {
		c.heartbeat.stop()
	}
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.logger.Debugw("Failed to close connection", "error", err)
		}
	})
}

// buildLoginRequest creates the login request for the device identity
func buildLoginRequest(creds *register.Credentials, persistentIDs []string, heartbeatInterval time.Duration) (*pb.LoginRequest, error) {
	// Convert androidID to hex
	androidIDInt, err := strconv.ParseUint(creds.GCM.AndroidID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid android ID: %w", err)
	}
	hexAndroidID := strconv.FormatUint(androidIDInt, 16)

	authService := pb.LoginRequestAndroidID
	loginReq := &pb.LoginRequest{
		AdaptiveHeartbeat: proto.Bool(false),
		AuthService:       &authService,
		AuthToken:         creds.GCM.SecurityToken,
		ID:                constants.ClientID,
		Domain:            constants.MCSDomain,
		DeviceID:          fmt.Sprintf("android-%s", hexAndroidID),
		NetworkType:       proto.Int32(1),
		Resource:          creds.GCM.AndroidID,
		User:              creds.GCM.AndroidID,
		UseRmq2:           proto.Bool(true),
		Setting: []*pb.Setting{
			{
				Name:  "new_vc",
				Value: "1",
			},
		},
		// Ids of the notifications received since the last login
		ReceivedPersistentID: persistentIDs,
	}

	if heartbeatInterval > 0 {
		loginReq.HeartbeatStat = &pb.HeartbeatStat{
			IP:         "",
			Timeout:    true,
			IntervalMs: int32(heartbeatInterval.Milliseconds()),
		}
	}

	return loginReq, nil
}

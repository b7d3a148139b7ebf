package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/palbooo/fcm-receiver-go/internal/constants"
	pb "github.com/palbooo/fcm-receiver-go/proto"
	"go.uber.org/zap"
)

// Message represents a parsed MCS protocol message
type Message struct {
	Tag    uint8
	Object pb.Message
}

// ParseError reports a corrupt MCS stream. The stream cannot be resynchronised
// after it, the connection has to be dropped.
type ParseError struct {
	Tag uint8
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mcs parse error (tag %d): %v", e.Tag, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errVarintTooLong   = errors.New("varint too long")
	errVarintOverflow  = errors.New("varint overflows 32 bits")
	errMessageTooLarge = errors.New("message too large")
)

// Parser decodes MCS frames from a byte stream delivered in arbitrary chunks.
// It is not safe for concurrent use.
type Parser struct {
	logger      *zap.SugaredLogger
	state       int
	data        []byte
	messageTag  uint8
	messageSize uint32
	err         error
}

// New creates a parser expecting the version byte of a fresh connection
func New(logger *zap.SugaredLogger) *Parser {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Parser{
		logger: logger,
		state:  constants.MCSVersionTagAndSize,
	}
}

// Reset drops buffered bytes and prepares for a new connection
func (p *Parser) Reset() {
	p.state = constants.MCSVersionTagAndSize
	p.data = nil
	p.messageTag = 0
	p.messageSize = 0
	p.err = nil
}

// Feed appends chunk to the buffer and returns every frame completed by it.
// Frames decoded before a corruption are returned together with the error.
func (p *Parser) Feed(chunk []byte) ([]*Message, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.data = append(p.data, chunk...)

	var out []*Message
	for {
		var (
			more bool
			err  error
		)

		switch p.state {
		case constants.MCSVersionTagAndSize:
			more, err = p.onGotVersion()

		case constants.MCSTagAndSize:
			more = p.onGotMessageTag()

		case constants.MCSSize:
			more, err = p.onGotMessageSize()

		case constants.MCSProtoBytes:
			var msg *Message
			msg, more, err = p.onGotMessageBytes()
			if msg != nil {
				out = append(out, msg)
			}

		default:
			err = fmt.Errorf("unexpected parser state: %d", p.state)
		}

		if err != nil {
			p.err = &ParseError{Tag: p.messageTag, Err: err}
			p.data = nil
			return out, p.err
		}
		if !more {
			if len(p.data) == 0 {
				p.data = nil
			}
			return out, nil
		}
	}
}

// onGotVersion consumes the version byte sent once per connection
func (p *Parser) onGotVersion() (bool, error) {
	if len(p.data) < constants.VersionPacketLen {
		return false, nil
	}

	version := p.data[0]
	p.data = p.data[constants.VersionPacketLen:]
	if version != constants.MCSVersion && version != constants.MCSVersionLegacy {
		return false, fmt.Errorf("unexpected MCS version: %d", version)
	}

	p.state = constants.MCSTagAndSize
	return true, nil
}

// onGotMessageTag handles reading the message tag
func (p *Parser) onGotMessageTag() bool {
	if len(p.data) < constants.TagPacketLen {
		return false
	}

	p.messageTag = p.data[0]
	p.data = p.data[constants.TagPacketLen:]
	p.state = constants.MCSSize
	return true
}

// onGotMessageSize decodes the varint length, possibly split across chunks
func (p *Parser) onGotMessageSize() (bool, error) {
	var size uint32
	for i, b := range p.data {
		if i >= constants.SizePacketLenMax {
			return false, errVarintTooLong
		}
		if i == constants.SizePacketLenMax-1 && b&0x80 == 0 && b > 0x0F {
			return false, errVarintOverflow
		}
		size |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			if size > constants.MaxMessageSize {
				return false, fmt.Errorf("%w: %d bytes", errMessageTooLarge, size)
			}
			p.data = p.data[i+1:]
			p.messageSize = size
			p.state = constants.MCSProtoBytes
			return true, nil
		}
	}

	if len(p.data) >= constants.SizePacketLenMax {
		return false, errVarintTooLong
	}
	return false, nil
}

// onGotMessageBytes decodes the payload once it is fully buffered
func (p *Parser) onGotMessageBytes() (*Message, bool, error) {
	if uint64(len(p.data)) < uint64(p.messageSize) {
		return nil, false, nil
	}

	payload := p.data[:p.messageSize]
	p.data = p.data[p.messageSize:]

	tag := p.messageTag
	p.messageTag = 0
	p.messageSize = 0
	p.state = constants.MCSTagAndSize

	msg, err := NewByTag(tag)
	if err != nil {
		p.logger.Warnw("Dropping frame", "tag", tag, "size", len(payload), "error", err)
		return nil, true, nil
	}

	if err := msg.Unmarshal(payload); err != nil {
		p.messageTag = tag
		return nil, false, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &Message{Tag: tag, Object: msg}, true, nil
}

// NewByTag returns an empty protobuf message for the given tag
func NewByTag(tag uint8) (pb.Message, error) {
	switch tag {
	case constants.HeartbeatPingTag:
		return &pb.HeartbeatPing{}, nil
	case constants.HeartbeatAckTag:
		return &pb.HeartbeatAck{}, nil
	case constants.LoginRequestTag:
		return &pb.LoginRequest{}, nil
	case constants.LoginResponseTag:
		return &pb.LoginResponse{}, nil
	case constants.CloseTag:
		return &pb.Close{}, nil
	case constants.IqStanzaTag:
		return &pb.IqStanza{}, nil
	case constants.DataMessageStanzaTag:
		return &pb.DataMessageStanza{}, nil
	case constants.StreamErrorStanzaTag:
		return &pb.StreamErrorStanza{}, nil
	default:
		return nil, fmt.Errorf("unknown message tag: %d", tag)
	}
}

// EncodeFrame builds tag, varint size and payload. The first frame written
// on a connection carries the version byte in front.
func EncodeFrame(tag uint8, msg pb.Message, withVersion bool) ([]byte, error) {
	data, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message (tag %d): %w", tag, err)
	}

	var buf bytes.Buffer
	if withVersion {
		buf.WriteByte(constants.MCSVersion)
	}
	buf.WriteByte(tag)
	buf.Write(EncodeVarint(uint32(len(data))))
	buf.Write(data)

	return buf.Bytes(), nil
}

// EncodeVarint encodes a uint32 as a varint
func EncodeVarint(value uint32) []byte {
	buf := make([]byte, binary.MaxVarintLen32)
	n := binary.PutUvarint(buf, uint64(value))
	return buf[:n]
}

// Reader pulls chunks from an io.Reader and hands out frames one at a time.
type Reader struct {
	r       io.Reader
	parser  *Parser
	buf     []byte
	pending []*Message
	err     error
}

// NewReader wraps r with a fresh parser
func NewReader(r io.Reader, logger *zap.SugaredLogger) *Reader {
	return &Reader{
		r:      r,
		parser: New(logger),
		buf:    make([]byte, 4096),
	}
}

// ReadMessage reads and parses the next message from the stream. Errors are
// sticky: once the stream failed every later call returns the same error.
func (r *Reader) ReadMessage() (*Message, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return nil, r.err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			msgs, perr := r.parser.Feed(r.buf[:n])
			r.pending = append(r.pending, msgs...)
			if perr != nil {
				r.err = perr
			}
		}
		if err != nil && r.err == nil {
			r.err = err
		}
	}

	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, nil
}

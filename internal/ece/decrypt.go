// Package ece decrypts Web Push payloads in the "aesgcm" content encoding
// (draft-ietf-webpush-encryption-03) as delivered inside MCS data messages.
package ece

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/palbooo/fcm-receiver-go/internal/utils"
	pb "github.com/palbooo/fcm-receiver-go/proto"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultRecordSize applies when the encryption header carries no rs.
	DefaultRecordSize = 4096

	tagLength   = 16
	keyLength   = 16
	nonceLength = 12
	saltLength  = 16
	padLength   = 2
)

// app data keys carrying the encryption parameters
const (
	HeaderCryptoKey  = "crypto-key"
	HeaderEncryption = "encryption"
)

var (
	// ErrMissingHeader is returned when a message lacks crypto-key or encryption.
	ErrMissingHeader = errors.New("missing encryption header")
	// ErrAuthentication covers malformed key material, integrity failure and
	// broken record framing.
	ErrAuthentication = errors.New("unable to authenticate data")
	// ErrInvalidPayload is returned when the plaintext is not JSON.
	ErrInvalidPayload = errors.New("decrypted payload is not valid JSON")
)

// IsDroppable reports whether a message failing with err should be skipped
// silently. Such failures are transient and later messages decrypt fine with
// the same keys.
func IsDroppable(err error) bool {
	return errors.Is(err, ErrMissingHeader) || errors.Is(err, ErrAuthentication)
}

// Keys is the receiver side key material
type Keys struct {
	private    *ecdh.PrivateKey
	authSecret []byte
}

// NewKeys decodes the stored base64 private key and auth secret
func NewKeys(privateKey, authSecret string) (*Keys, error) {
	raw, err := utils.DecodeAnyBase64(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) < 32 {
		raw = append(make([]byte, 32-len(raw)), raw...)
	}

	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	secret, err := utils.DecodeAnyBase64(authSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode auth secret: %w", err)
	}

	return &Keys{private: priv, authSecret: secret}, nil
}

// PublicKey returns the uncompressed receiver public key
func (k *Keys) PublicKey() []byte {
	return k.private.PublicKey().Bytes()
}

// Decrypt decrypts the raw data of msg and returns the JSON document it holds
func Decrypt(msg *pb.DataMessageStanza, keys *Keys) (json.RawMessage, error) {
	cryptoKey, ok := msg.AppDataValue(HeaderCryptoKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderCryptoKey)
	}
	encryption, ok := msg.AppDataValue(HeaderEncryption)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderEncryption)
	}

	params, err := parseHeaders(cryptoKey, encryption)
	if err != nil {
		return nil, err
	}

	plaintext, err := decrypt(msg.RawData, params, keys)
	if err != nil {
		return nil, err
	}

	if !json.Valid(plaintext) {
		return nil, ErrInvalidPayload
	}
	return json.RawMessage(plaintext), nil
}

type parameters struct {
	dh         []byte
	salt       []byte
	recordSize int
}

// parseHeaders reads dh from crypto-key and salt/rs from encryption. Both are
// ";" separated name=value lists.
func parseHeaders(cryptoKey, encryption string) (*parameters, error) {
	p := &parameters{recordSize: DefaultRecordSize}

	dh, ok := headerParam(cryptoKey, "dh")
	if !ok {
		return nil, fmt.Errorf("%w: crypto-key has no dh", ErrAuthentication)
	}
	var err error
	if p.dh, err = utils.DecodeAnyBase64(dh); err != nil {
		return nil, fmt.Errorf("%w: malformed dh: %v", ErrAuthentication, err)
	}

	salt, ok := headerParam(encryption, "salt")
	if !ok {
		return nil, fmt.Errorf("%w: encryption has no salt", ErrAuthentication)
	}
	if p.salt, err = utils.DecodeAnyBase64(salt); err != nil {
		return nil, fmt.Errorf("%w: malformed salt: %v", ErrAuthentication, err)
	}
	if len(p.salt) != saltLength {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrAuthentication, saltLength)
	}

	if rs, ok := headerParam(encryption, "rs"); ok {
		n, err := strconv.Atoi(rs)
		if err != nil || n <= padLength {
			return nil, fmt.Errorf("%w: invalid record size %q", ErrAuthentication, rs)
		}
		p.recordSize = n
	}

	return p, nil
}

func headerParam(header, name string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if found && strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.Trim(strings.TrimSpace(v), `"`), true
		}
	}
	return "", false
}

func decrypt(data []byte, p *parameters, keys *Keys) ([]byte, error) {
	senderKey, err := ecdh.P256().NewPublicKey(p.dh)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sender key: %v", ErrAuthentication, err)
	}
	shared, err := keys.private.ECDH(senderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	cek, nonce, err := deriveKeyAndNonce(shared, p.salt, keys.authSecret, keys.PublicKey(), p.dh)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	chunkSize := p.recordSize + tagLength
	var out []byte
	for start, counter := 0, uint64(0); start < len(data); counter++ {
		end := start + chunkSize
		// a full sized final record means the message was cut short
		if end == len(data) {
			return nil, fmt.Errorf("%w: truncated payload", ErrAuthentication)
		}
		if end > len(data) {
			end = len(data)
		}

		record, err := gcm.Open(nil, recordNonce(nonce, counter), data[start:end], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		record, err = unpad(record)
		if err != nil {
			return nil, err
		}
		out = append(out, record...)

		start = end
	}

	return out, nil
}

func deriveKeyAndNonce(shared, salt, authSecret, receiverKey, senderKey []byte) ([]byte, []byte, error) {
	ikm, err := hkdfExpand(authSecret, shared, []byte("Content-Encoding: auth\x00"), 32)
	if err != nil {
		return nil, nil, err
	}

	context := []byte("P-256\x00")
	context = binary.BigEndian.AppendUint16(context, uint16(len(receiverKey)))
	context = append(context, receiverKey...)
	context = binary.BigEndian.AppendUint16(context, uint16(len(senderKey)))
	context = append(context, senderKey...)

	cek, err := hkdfExpand(salt, ikm, append([]byte("Content-Encoding: aesgcm\x00"), context...), keyLength)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := hkdfExpand(salt, ikm, append([]byte("Content-Encoding: nonce\x00"), context...), nonceLength)
	if err != nil {
		return nil, nil, err
	}

	return cek, nonce, nil
}

func hkdfExpand(salt, secret, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// recordNonce XORs the record sequence number into the low 48 bits of base
func recordNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	for i := 0; i < 6; i++ {
		nonce[len(nonce)-1-i] ^= byte(counter >> (8 * i))
	}
	return nonce
}

// unpad strips the two byte padding length and the zero padding after it
func unpad(record []byte) ([]byte, error) {
	if len(record) < padLength {
		return nil, fmt.Errorf("%w: record too short", ErrAuthentication)
	}
	pad := int(binary.BigEndian.Uint16(record))
	if pad+padLength > len(record) {
		return nil, fmt.Errorf("%w: padding exceeds block size", ErrAuthentication)
	}
	for _, b := range record[padLength : padLength+pad] {
		if b != 0 {
			return nil, fmt.Errorf("%w: invalid padding", ErrAuthentication)
		}
	}
	return record[padLength+pad:], nil
}

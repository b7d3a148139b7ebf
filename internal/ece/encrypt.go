package ece

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"

	"github.com/palbooo/fcm-receiver-go/internal/utils"
	pb "github.com/palbooo/fcm-receiver-go/proto"
)

// Payload is an encrypted message together with the headers needed to
// decrypt it.
type Payload struct {
	RawData    []byte
	CryptoKey  string
	Encryption string
}

// AppData returns the headers in the form a data message carries them
func (p *Payload) AppData() []*pb.AppData {
	return []*pb.AppData{
		{Key: HeaderCryptoKey, Value: p.CryptoKey},
		{Key: HeaderEncryption, Value: p.Encryption},
	}
}

// Encrypt encrypts plaintext for the receiver the way a push service does,
// with a fresh sender key and salt. The first record carries pad zero bytes
// of padding.
func Encrypt(plaintext, receiverKey, authSecret []byte, recordSize, pad int) (*Payload, error) {
	if recordSize <= 0 {
		recordSize = DefaultRecordSize
	}
	if pad < 0 || pad+padLength >= recordSize {
		return nil, errors.New("padding does not fit the record size")
	}

	receiver, err := ecdh.P256().NewPublicKey(receiverKey)
	if err != nil {
		return nil, fmt.Errorf("invalid receiver key: %w", err)
	}
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	shared, err := ephemeral.ECDH(receiver)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	senderKey := ephemeral.PublicKey().Bytes()
	cek, nonce, err := deriveKeyAndNonce(shared, salt, authSecret, receiverKey, senderKey)
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

	chunkSize := recordSize + tagLength
	var raw []byte
	// a final record of exactly chunkSize reads as truncated, so a short one
	// always closes the message
	for counter := uint64(0); counter == 0 || len(plaintext) > 0 || len(raw)%chunkSize == 0; counter++ {
		recordPad := 0
		if counter == 0 {
			recordPad = pad
		}
		take := recordSize - padLength - recordPad
		if take > len(plaintext) {
			take = len(plaintext)
		}

		record := make([]byte, padLength+recordPad, padLength+recordPad+take)
		record[0] = byte(recordPad >> 8)
		record[1] = byte(recordPad)
		record = append(record, plaintext[:take]...)
		plaintext = plaintext[take:]

		raw = gcm.Seal(raw, recordNonce(nonce, counter), record, nil)
	}

	encryption := "salt=" + utils.ToURLBase64(salt)
	if recordSize != DefaultRecordSize {
		encryption += ";rs=" + strconv.Itoa(recordSize)
	}

	return &Payload{
		RawData:    raw,
		CryptoKey:  "dh=" + utils.ToURLBase64(senderKey),
		Encryption: encryption,
	}, nil
}

package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const (
	// ContentEncoding is the Content-Encoding of encrypted payloads.
	ContentEncoding = "aes128gcm"
	recordSize      = 4096
	saltSize        = 16
	authSecretSize  = 16
	gcmTagSize      = 16
	// MaxPayloadSize is the largest plaintext that fits one record.
	MaxPayloadSize = recordSize - gcmTagSize - 1
)

// Encrypt seals plaintext for a subscription per RFC 8291 as a single
// aes128gcm record. The returned body carries its own header (salt, record
// size, sender public key). rand supplies the ephemeral key and salt.
func Encrypt(rand io.Reader, plaintext []byte, p256dh, auth string) ([]byte, error) {
	if len(plaintext) > MaxPayloadSize {
		return nil, tracker.InvalidInput(fmt.Sprintf("payload exceeds %d bytes", MaxPayloadSize))
	}
	uaPublic, err := decodeBase64(p256dh)
	if err != nil {
		return nil, fmt.Errorf("decode p256dh: %w", err)
	}
	authSecret, err := decodeBase64(auth)
	if err != nil {
		return nil, fmt.Errorf("decode auth: %w", err)
	}
	if len(authSecret) != authSecretSize {
		return nil, tracker.InvalidInput("auth secret must be 16 bytes")
	}
	curve := ecdh.P256()
	uaKey, err := curve.NewPublicKey(uaPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: p256dh: %v", tracker.ErrInvalidInput, err)
	}
	asKey, err := curve.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	shared, err := asKey.ECDH(uaKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	asPublic := asKey.PublicKey().Bytes()
	cek, nonce, err := deriveContentKeys(shared, authSecret, uaPublic, asPublic, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	header := make([]byte, 0, saltSize+4+1+len(asPublic))
	header = append(header, salt...)
	header = binary.BigEndian.AppendUint32(header, recordSize)
	header = append(header, byte(len(asPublic)))
	header = append(header, asPublic...)

	record := make([]byte, 0, len(plaintext)+1)
	record = append(record, plaintext...)
	record = append(record, 0x02) // last-record delimiter
	return gcm.Seal(header, nonce, record, nil), nil
}

// deriveContentKeys runs the RFC 8291 key schedule and returns the
// 16-byte content encryption key and the 12-byte nonce.
func deriveContentKeys(shared, authSecret, uaPublic, asPublic, salt []byte) ([]byte, []byte, error) {
	keyInfo := make([]byte, 0, 14+len(uaPublic)+len(asPublic))
	keyInfo = append(keyInfo, "WebPush: info\x00"...)
	keyInfo = append(keyInfo, uaPublic...)
	keyInfo = append(keyInfo, asPublic...)
	ikm, err := expand(shared, authSecret, keyInfo, 32)
	if err != nil {
		return nil, nil, err
	}
	cek, err := expand(ikm, salt, []byte("Content-Encoding: aes128gcm\x00"), 16)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := expand(ikm, salt, []byte("Content-Encoding: nonce\x00"), 12)
	if err != nil {
		return nil, nil, err
	}
	return cek, nonce, nil
}

func expand(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

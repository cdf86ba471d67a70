package push

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const (
	// DefaultSubject is the VAPID contact used when none is configured.
	DefaultSubject = "mailto:noreply@socialtracker.app"
	tokenValidity  = 12 * time.Hour
	p256ScalarSize = 32
)

// KeyPair is a base64url (unpadded) VAPID key pair: the 32-byte private
// scalar and the 65-byte uncompressed public point.
type KeyPair struct {
	Private string `json:"private_key"`
	Public  string `json:"public_key"`
}

// GenerateKeys creates a fresh P-256 VAPID key pair.
func GenerateKeys() (KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate p-256 key: %w", err)
	}
	return KeyPair{
		Private: base64.RawURLEncoding.EncodeToString(priv.Bytes()),
		Public:  base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
	}, nil
}

// signingMethodDER is an ES256 jwt.SigningMethod that signs with the ASN.1
// DER output of crypto/ecdsa and converts it to the raw JWS form.
type signingMethodDER struct{}

var es256DER jwt.SigningMethod = signingMethodDER{}

func (signingMethodDER) Alg() string { return "ES256" }

func (signingMethodDER) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return DERToRaw(der, p256ScalarSize)
}

func (signingMethodDER) Verify(signingString string, sig []byte, key any) error {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if len(sig) != 2*p256ScalarSize {
		return jwt.ErrSignatureInvalid
	}
	r := new(big.Int).SetBytes(sig[:p256ScalarSize])
	s := new(big.Int).SetBytes(sig[p256ScalarSize:])
	digest := sha256.Sum256([]byte(signingString))
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Signer mints VAPID JWTs for push service audiences.
type Signer struct {
	key       *ecdsa.PrivateKey
	publicKey string
	subject   string
	clock     tracker.Clock
}

// NewSigner parses the configured key pair. When publicKey is non-empty it
// must match the private key.
func NewSigner(privateKey, publicKey, subject string, clock tracker.Clock) (*Signer, error) {
	raw, err := decodeBase64(privateKey)
	if err != nil {
		return nil, fmt.Errorf("decode vapid private key: %w", err)
	}
	key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), raw)
	if err != nil {
		return nil, fmt.Errorf("parse vapid private key: %w", err)
	}
	pubBytes, err := key.PublicKey.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode vapid public key: %w", err)
	}
	derived := base64.RawURLEncoding.EncodeToString(pubBytes)
	if publicKey != "" {
		given, err := decodeBase64(publicKey)
		if err != nil {
			return nil, fmt.Errorf("decode vapid public key: %w", err)
		}
		if base64.RawURLEncoding.EncodeToString(given) != derived {
			return nil, errors.New("vapid public key does not match private key")
		}
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	return &Signer{key: key, publicKey: derived, subject: normalizeSubject(subject), clock: clock}, nil
}

// PublicKey returns the application server key clients subscribe with.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Token returns a JWT with aud = origin of endpoint, exp = now + 12h.
func (s *Signer) Token(endpoint string) (string, error) {
	aud, err := audience(endpoint)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"aud": aud,
		"exp": s.clock.Now().Add(tokenValidity).Unix(),
		"sub": s.subject,
	}
	token, err := jwt.NewWithClaims(es256DER, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign vapid token: %w", err)
	}
	return token, nil
}

// Authorization returns the header value "vapid t=<jwt>, k=<public key>".
func (s *Signer) Authorization(endpoint string) (string, error) {
	token, err := s.Token(endpoint)
	if err != nil {
		return "", err
	}
	return "vapid t=" + token + ", k=" + s.publicKey, nil
}

func audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: parse endpoint: %v", tracker.ErrInvalidInput, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", tracker.InvalidInput("endpoint must be an absolute URL")
	}
	return u.Scheme + "://" + u.Host, nil
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	switch {
	case subject == "":
		return DefaultSubject
	case strings.HasPrefix(subject, "mailto:"), strings.HasPrefix(subject, "https://"):
		return subject
	default:
		return "mailto:" + subject
	}
}

// decodeBase64 accepts standard or URL alphabets, padded or not, since
// browsers hand keys out in both forms.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrInvalidInput, err)
	}
	return b, nil
}

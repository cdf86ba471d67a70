package push

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ErrMalformedSignature is returned for DER input that is not
// SEQUENCE { INTEGER r, INTEGER s } with positive integers of at most size bytes.
var ErrMalformedSignature = errors.New("malformed ECDSA signature")

// DERToRaw converts an ASN.1 DER ECDSA signature into the fixed-width r||s
// form used by JWS, each integer left-padded with zeros to size bytes.
func DERToRaw(der []byte, size int) ([]byte, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: expected a single SEQUENCE", ErrMalformedSignature)
	}
	r, err := readUnsignedInteger(&seq, size)
	if err != nil {
		return nil, fmt.Errorf("r: %w", err)
	}
	s, err := readUnsignedInteger(&seq, size)
	if err != nil {
		return nil, fmt.Errorf("s: %w", err)
	}
	if !seq.Empty() {
		return nil, fmt.Errorf("%w: trailing data in SEQUENCE", ErrMalformedSignature)
	}

	out := make([]byte, 2*size)
	copy(out[size-len(r):size], r)
	copy(out[2*size-len(s):], s)
	return out, nil
}

// readUnsignedInteger reads one INTEGER and returns its magnitude without
// the zero byte DER adds when the high bit would otherwise read as a sign.
func readUnsignedInteger(in *cryptobyte.String, size int) ([]byte, error) {
	var body cryptobyte.String
	if !in.ReadASN1(&body, asn1.INTEGER) {
		return nil, fmt.Errorf("%w: expected INTEGER", ErrMalformedSignature)
	}
	b := []byte(body)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty INTEGER", ErrMalformedSignature)
	}
	if b[0]&0x80 != 0 {
		return nil, fmt.Errorf("%w: negative INTEGER", ErrMalformedSignature)
	}
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	if len(b) > size {
		return nil, fmt.Errorf("%w: INTEGER longer than %d bytes", ErrMalformedSignature, size)
	}
	return b, nil
}

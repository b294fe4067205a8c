package atproto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// KeyType identifies the curve of a verification key.
type KeyType string

const (
	KeyTypeSecp256k1 KeyType = "secp256k1"
	KeyTypeP256      KeyType = "p256"
)

// Multicodec prefixes for compressed public keys, varint encoded.
var (
	multicodecSecp256k1 = []byte{0xe7, 0x01}
	multicodecP256      = []byte{0x80, 0x24}
)

const compressedKeyLen = 33

// PublicKey is a parsed atproto verification key.
type PublicKey struct {
	Type KeyType
	// Bytes is the compressed SEC1 encoding.
	Bytes []byte
}

// ParsePublicKeyMultibase decodes a publicKeyMultibase value or a did:key
// string into a verification key. Only base58btc encodings of secp256k1 and
// P-256 keys are supported.
func ParsePublicKeyMultibase(encoded string) (*PublicKey, error) {
	encoded = strings.TrimPrefix(strings.TrimSpace(encoded), "did:key:")
	if encoded == "" {
		return nil, ErrUnsupportedKey.WithMetadata(map[string]any{"reason": "empty key"})
	}

	if encoded[0] != 'z' {
		return nil, ErrUnsupportedKey.WithMetadata(map[string]any{
			"reason":    "unsupported multibase prefix",
			"multibase": string(encoded[0]),
		})
	}

	decoded := base58.Decode(encoded[1:])
	if len(decoded) == 0 {
		return nil, ErrUnsupportedKey.WithMetadata(map[string]any{"reason": "invalid base58"})
	}

	if rest, ok := trimPrefix(decoded, multicodecSecp256k1); ok {
		return newPublicKey(KeyTypeSecp256k1, rest)
	}
	if rest, ok := trimPrefix(decoded, multicodecP256); ok {
		return newPublicKey(KeyTypeP256, rest)
	}

	return nil, ErrUnsupportedKey.WithMetadata(map[string]any{"reason": "unknown multicodec"})
}

func newPublicKey(keyType KeyType, raw []byte) (*PublicKey, error) {
	if len(raw) != compressedKeyLen {
		return nil, ErrUnsupportedKey.WithMetadata(map[string]any{
			"reason": "unexpected key length",
			"length": len(raw),
		})
	}
	return &PublicKey{Type: keyType, Bytes: raw}, nil
}

// Verify checks a compact r‖s signature over message. The message is hashed
// with SHA-256 before verification.
func (k *PublicKey) Verify(message, sig []byte) error {
	if k == nil {
		return ErrUnsupportedKey
	}
	if len(sig) != 64 {
		return ErrInvalidSignature.WithMetadata(map[string]any{
			"reason": "signature is not 64 bytes",
			"length": len(sig),
		})
	}

	digest := sha256.Sum256(message)

	switch k.Type {
	case KeyTypeSecp256k1:
		return k.verifySecp256k1(digest[:], sig)
	case KeyTypeP256:
		return k.verifyP256(digest[:], sig)
	default:
		return ErrUnsupportedKey.WithMetadata(map[string]any{"type": string(k.Type)})
	}
}

func (k *PublicKey) verifySecp256k1(digest, sig []byte) error {
	pub, err := btcec.ParsePubKey(k.Bytes)
	if err != nil {
		return ErrUnsupportedKey.WithMetadata(map[string]any{"reason": err.Error()})
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return ErrInvalidSignature
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return ErrInvalidSignature
	}

	if !btcecdsa.NewSignature(&r, &s).Verify(digest, pub) {
		return ErrInvalidSignature
	}

	return nil
}

func (k *PublicKey) verifyP256(digest, sig []byte) error {
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), k.Bytes)
	if x == nil {
		return ErrUnsupportedKey.WithMetadata(map[string]any{"reason": "invalid P-256 point"})
	}

	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	if !ecdsa.Verify(pub, digest, r, s) {
		return ErrInvalidSignature
	}

	return nil
}

func trimPrefix(data, prefix []byte) ([]byte, bool) {
	if len(data) < len(prefix) {
		return nil, false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return nil, false
		}
	}
	return data[len(prefix):], true
}

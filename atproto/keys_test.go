package atproto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeMultibase(prefix, key []byte) string {
	data := append(append([]byte{}, prefix...), key...)
	return "z" + base58.Encode(data)
}

// signSecp256k1 returns the compact r‖s signature over sha256(message).
func signSecp256k1(priv *btcec.PrivateKey, message []byte) []byte {
	digest := sha256.Sum256(message)
	compact := btcecdsa.SignCompact(priv, digest[:], true)
	return compact[1:]
}

func TestParsePublicKeyMultibaseSecp256k1(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	encoded := encodeMultibase(multicodecSecp256k1, priv.PubKey().SerializeCompressed())

	key, err := ParsePublicKeyMultibase(encoded)
	require.NoError(t, err)
	assert.Equal(t, KeyTypeSecp256k1, key.Type)
	assert.Len(t, key.Bytes, compressedKeyLen)
}

func TestParsePublicKeyMultibaseAcceptsDIDKeyPrefix(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	encoded := "did:key:" + encodeMultibase(multicodecSecp256k1, priv.PubKey().SerializeCompressed())

	key, err := ParsePublicKeyMultibase(encoded)
	require.NoError(t, err)
	assert.Equal(t, KeyTypeSecp256k1, key.Type)
}

func TestParsePublicKeyMultibaseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		encoded string
	}{
		{name: "empty", encoded: ""},
		{name: "wrong multibase", encoded: "uQmFzZTY0"},
		{name: "invalid base58", encoded: "z0OIl"},
		{name: "unknown multicodec", encoded: encodeMultibase([]byte{0x12, 0x00}, make([]byte, compressedKeyLen))},
		{name: "truncated key", encoded: encodeMultibase(multicodecSecp256k1, make([]byte, 10))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicKeyMultibase(tc.encoded)
			assert.ErrorIs(t, err, ErrUnsupportedKey)
		})
	}
}

func TestVerifySecp256k1(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	key, err := ParsePublicKeyMultibase(encodeMultibase(multicodecSecp256k1, priv.PubKey().SerializeCompressed()))
	require.NoError(t, err)

	message := []byte("header.payload")
	sig := signSecp256k1(priv, message)

	require.NoError(t, key.Verify(message, sig))

	assert.ErrorIs(t, key.Verify([]byte("header.tampered"), sig), ErrInvalidSignature)

	tampered := append([]byte{}, sig...)
	tampered[10] ^= 0x01
	assert.ErrorIs(t, key.Verify(message, tampered), ErrInvalidSignature)
}

func TestVerifySecp256k1RejectsOverflowingScalars(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	key, err := ParsePublicKeyMultibase(encodeMultibase(multicodecSecp256k1, priv.PubKey().SerializeCompressed()))
	require.NoError(t, err)

	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = 0xff
	}

	assert.ErrorIs(t, key.Verify([]byte("message"), sig), ErrInvalidSignature)
}

func TestVerifyP256(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	compressed := elliptic.MarshalCompressed(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	key, err := ParsePublicKeyMultibase(encodeMultibase(multicodecP256, compressed))
	require.NoError(t, err)
	assert.Equal(t, KeyTypeP256, key.Type)

	message := []byte("header.payload")
	digest := sha256.Sum256(message)

	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	require.NoError(t, key.Verify(message, sig))
	assert.ErrorIs(t, key.Verify([]byte("other"), sig), ErrInvalidSignature)
}

func TestVerifyRejectsWrongSignatureLength(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	key, err := ParsePublicKeyMultibase(encodeMultibase(multicodecSecp256k1, priv.PubKey().SerializeCompressed()))
	require.NoError(t, err)

	assert.ErrorIs(t, key.Verify([]byte("message"), make([]byte, 63)), ErrInvalidSignature)
	assert.ErrorIs(t, key.Verify([]byte("message"), nil), ErrInvalidSignature)
}

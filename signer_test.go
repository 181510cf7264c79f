package cardano

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expandSeed derives the extended key (kL || kR) that ed25519 uses
// internally for seed.
func expandSeed(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:]
}

func TestSigningKey_SeedMatchesEd25519(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	msg := []byte("transaction body hash")

	key, err := NewSigningKey(seed)
	require.NoError(t, err)
	assert.False(t, key.IsExtended())

	expected := ed25519.NewKeyFromSeed(seed)
	assert.Equal(t, expected.Public(), key.VerificationKey())

	sig, err := key.Sign(msg)
	require.NoError(t, err)
	assert.Equal(t, ed25519.Sign(expected, msg), sig)
}

func TestSigningKey_Extended(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	msg := []byte("transaction body hash")

	extended, err := NewSigningKey(expandSeed(seed))
	require.NoError(t, err)
	assert.True(t, extended.IsExtended())

	plain, err := NewSigningKey(seed)
	require.NoError(t, err)

	// an extended key expanded from a seed is the same key
	assert.Equal(t, plain.VerificationKey(), extended.VerificationKey())
	assert.Equal(t, plain.KeyHash(), extended.KeyHash())

	sig, err := extended.Sign(msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(extended.VerificationKey(), msg, sig))

	expected, err := plain.Sign(msg)
	require.NoError(t, err)
	assert.Equal(t, expected, sig)
}

func TestSigningKey_CliLayout(t *testing.T) {
	raw := expandSeed(bytes.Repeat([]byte{3}, 32))
	key, err := NewSigningKey(raw)
	require.NoError(t, err)

	chainCode := bytes.Repeat([]byte{0xcc}, 32)
	cli := append(append(append([]byte{}, raw...), key.VerificationKey()...), chainCode...)

	fromCli, err := NewSigningKey(cli)
	require.NoError(t, err)
	assert.Equal(t, key.KeyHash(), fromCli.KeyHash())

	corrupted := append([]byte{}, cli...)
	corrupted[70] ^= 0xff
	_, err = NewSigningKey(corrupted)
	assert.True(t, errors.Is(err, ErrInvalidKey))

	_, err = NewSigningKey(make([]byte, 33))
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestSigningKey_TextEnvelope(t *testing.T) {
	seed := bytes.Repeat([]byte{5}, 32)
	dir := t.TempDir()

	skey := `{
		"type": "PaymentSigningKeyShelley_ed25519",
		"description": "Payment Signing Key",
		"cborHex": "5820` + hex.EncodeToString(seed) + `"
	}`
	skeyPath := filepath.Join(dir, "payment.skey")
	require.NoError(t, os.WriteFile(skeyPath, []byte(skey), 0600))

	key, err := LoadSigningKey(skeyPath)
	require.NoError(t, err)

	expected, err := NewSigningKey(seed)
	require.NoError(t, err)
	assert.Equal(t, expected.KeyHash(), key.KeyHash())

	vkey := `{
		"type": "PaymentVerificationKeyShelley_ed25519",
		"description": "Payment Verification Key",
		"cborHex": "5820` + hex.EncodeToString(key.VerificationKey()) + `"
	}`
	vkeyPath := filepath.Join(dir, "payment.vkey")
	require.NoError(t, os.WriteFile(vkeyPath, []byte(vkey), 0600))

	hash, err := LoadVerificationKeyHash(vkeyPath)
	require.NoError(t, err)
	assert.Equal(t, key.KeyHash(), hash)

	_, err = ParseTextEnvelope([]byte(vkey))
	assert.True(t, errors.Is(err, ErrInvalidKey), "a verification key is not a signing key")

	_, err = ParseVerificationKeyHash([]byte(skey))
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestKeyHashBech32(t *testing.T) {
	key := testKey(t, 1)

	encoded, err := KeyHashBech32(key.KeyHash())
	require.NoError(t, err)
	assert.Contains(t, encoded, "addr_vkh1")

	decoded, err := ParseKeyHashBech32(encoded)
	require.NoError(t, err)
	assert.Equal(t, key.KeyHash(), decoded)
}

func TestSign_DeduplicatesAndOrders(t *testing.T) {
	a := testKey(t, 1)
	b := testKey(t, 2)

	tx := &Transaction{Valid: true}
	tx.Body.Inputs = []TransactionInput{{Index: 1}}
	tx.Body.Fee = 170_000

	witnesses, err := Sign(tx, b, a, b, nil)
	require.NoError(t, err)
	require.Len(t, witnesses, 2)
	assert.True(t, bytes.Compare(witnesses[0].VKey, witnesses[1].VKey) < 0)

	reversed, err := Sign(tx, a, b)
	require.NoError(t, err)
	assert.Equal(t, witnesses, reversed, "witnesses do not depend on key order")

	id, err := tx.Id()
	require.NoError(t, err)
	for _, w := range witnesses {
		assert.True(t, ed25519.Verify(w.VKey, id[:], w.Signature))
	}

	require.NoError(t, SignTransaction(tx, a))
	require.NoError(t, SignTransaction(tx, a, b))
	assert.Len(t, tx.Witnesses.VKeyWitnesses, 2)
	assert.ElementsMatch(t, []KeyHash{a.KeyHash(), b.KeyHash()}, tx.Signers())
	assert.NoError(t, tx.VerifyWitnesses())

	// witnesses do not change the id
	after, err := tx.Id()
	require.NoError(t, err)
	assert.Equal(t, id, after)
}

func TestVerifyWitnesses_Failures(t *testing.T) {
	a := testKey(t, 1)
	b := testKey(t, 2)

	tx := &Transaction{Valid: true}
	tx.Body.Fee = 1
	tx.Body.RequiredSigners = []KeyHash{b.KeyHash()}
	require.NoError(t, SignTransaction(tx, a))

	err := tx.VerifyWitnesses()
	assert.True(t, errors.Is(err, ErrMissingRequiredSigner), "got %v", err)

	require.NoError(t, SignTransaction(tx, b))
	require.NoError(t, tx.VerifyWitnesses())

	tx.Body.Fee = 2
	assert.Error(t, tx.VerifyWitnesses(), "signatures no longer cover the body")
}

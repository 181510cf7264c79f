package cardano

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"os"
	"strings"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// SigningKey is an opaque handle over either a plain ed25519 seed or a
// BIP32-Ed25519 extended key (kL || kR).
type SigningKey struct {
	seed     []byte
	extended []byte
	public   ed25519.PublicKey
}

// NewSigningKey accepts 32 seed bytes, 64 extended key bytes, or the 128 byte
// cardano-cli extended layout (kL || kR || public key || chain code).
func NewSigningKey(raw []byte) (key *SigningKey, err error) {
	switch len(raw) {
	case ed25519.SeedSize:
		priv := ed25519.NewKeyFromSeed(raw)
		key = &SigningKey{
			seed:   append([]byte{}, raw...),
			public: priv.Public().(ed25519.PublicKey),
		}
	case 64, 128:
		key = &SigningKey{extended: append([]byte{}, raw[:64]...)}
		key.public, err = extendedPublicKey(raw[:32])
		if err != nil {
			return nil, err
		}
		if len(raw) == 128 && string(raw[64:96]) != string(key.public) {
			return nil, errors.Wrap(ErrInvalidKey, "embedded public key does not match")
		}
	default:
		err = errors.Wrapf(ErrInvalidKey, "unsupported key length %d", len(raw))
	}
	return
}

// extendedScalar reduces kL modulo the group order. Derived child keys are
// not clamped, so kL is taken as is.
func extendedScalar(kL []byte) (*edwards25519.Scalar, error) {
	wide := make([]byte, 64)
	copy(wide, kL)
	s, err := new(edwards25519.Scalar).SetUniformBytes(wide)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	return s, nil
}

// extendedPublicKey derives A = kL*B without hashing.
func extendedPublicKey(kL []byte) (ed25519.PublicKey, error) {
	scalar, err := extendedScalar(kL)
	if err != nil {
		return nil, err
	}
	var p edwards25519.Point
	p.ScalarBaseMult(scalar)
	return p.Bytes(), nil
}

func (k *SigningKey) VerificationKey() ed25519.PublicKey {
	return append(ed25519.PublicKey{}, k.public...)
}

func (k *SigningKey) KeyHash() KeyHash {
	return Blake2b224(k.public)
}

func (k *SigningKey) IsExtended() bool {
	return k.extended != nil
}

// Sign signs msg. Extended keys follow the BIP32-Ed25519 scheme, which for a
// key expanded from a seed produces the same signature as plain ed25519.
func (k *SigningKey) Sign(msg []byte) (sig []byte, err error) {
	if k.seed != nil {
		return ed25519.Sign(ed25519.NewKeyFromSeed(k.seed), msg), nil
	}

	kL, err := extendedScalar(k.extended[:32])
	if err != nil {
		return
	}

	h := sha512.New()
	h.Write(k.extended[32:64])
	h.Write(msg)
	var r edwards25519.Scalar
	if _, err = r.SetUniformBytes(h.Sum(nil)); err != nil {
		return nil, errors.WithStack(err)
	}
	R := new(edwards25519.Point).ScalarBaseMult(&r).Bytes()

	h.Reset()
	h.Write(R)
	h.Write(k.public)
	h.Write(msg)
	var challenge edwards25519.Scalar
	if _, err = challenge.SetUniformBytes(h.Sum(nil)); err != nil {
		return nil, errors.WithStack(err)
	}

	S := new(edwards25519.Scalar).MultiplyAdd(&challenge, kL, &r)

	return append(R, S.Bytes()...), nil
}

// ParseTextEnvelope reads a cardano-cli key file:
// {"type": "...", "description": "...", "cborHex": "5820..."}
func ParseTextEnvelope(data []byte) (key *SigningKey, err error) {
	envelope := gjson.ParseBytes(data)
	typ := envelope.Get("type").String()
	if !strings.Contains(typ, "SigningKey") {
		err = errors.Wrapf(ErrInvalidKey, "text envelope type '%s' is not a signing key", typ)
		return
	}

	raw, err := hex.DecodeString(envelope.Get("cborHex").String())
	if err != nil {
		err = errors.Wrap(ErrInvalidKey, "cborHex is not hex")
		return
	}

	var keyBytes []byte
	if err = StandardCborDecoder.Unmarshal(raw, &keyBytes); err != nil {
		err = errors.Wrap(ErrInvalidKey, "cborHex is not a cbor byte string")
		return
	}

	return NewSigningKey(keyBytes)
}

func LoadSigningKey(path string) (key *SigningKey, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	return ParseTextEnvelope(data)
}

// ParseVerificationKeyHash hashes the key in a cardano-cli verification key
// file. Extended keys carry a chain code after the 32 key bytes.
func ParseVerificationKeyHash(data []byte) (hash KeyHash, err error) {
	envelope := gjson.ParseBytes(data)
	typ := envelope.Get("type").String()
	if !strings.Contains(typ, "VerificationKey") {
		err = errors.Wrapf(ErrInvalidKey, "text envelope type '%s' is not a verification key", typ)
		return
	}

	raw, err := hex.DecodeString(envelope.Get("cborHex").String())
	if err != nil {
		err = errors.Wrap(ErrInvalidKey, "cborHex is not hex")
		return
	}

	var keyBytes []byte
	if err = StandardCborDecoder.Unmarshal(raw, &keyBytes); err != nil {
		err = errors.Wrap(ErrInvalidKey, "cborHex is not a cbor byte string")
		return
	}
	if len(keyBytes) != ed25519.PublicKeySize && len(keyBytes) != 64 {
		err = errors.Wrapf(ErrInvalidKey, "unsupported verification key length %d", len(keyBytes))
		return
	}

	return Blake2b224(keyBytes[:ed25519.PublicKeySize]), nil
}

func LoadVerificationKeyHash(path string) (hash KeyHash, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	return ParseVerificationKeyHash(data)
}

// KeyHashBech32 renders a payment key hash with the CIP-5 addr_vkh prefix.
func KeyHashBech32(h KeyHash) (string, error) {
	conv, err := bech32.ConvertBits(h[:], 8, 5, true)
	if err != nil {
		return "", errors.WithStack(err)
	}
	s, err := bech32.Encode("addr_vkh", conv)
	return s, errors.WithStack(err)
}

func ParseKeyHashBech32(s string) (h KeyHash, err error) {
	prefix, data, err := bech32.Decode(s)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	if prefix != "addr_vkh" {
		err = errors.Errorf("unexpected prefix '%s'", prefix)
		return
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	if len(conv) != len(h) {
		err = errors.Errorf("key hash must be %d bytes, got %d", len(h), len(conv))
		return
	}
	copy(h[:], conv)
	return
}

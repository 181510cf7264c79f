package cardano

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Hash28 is a blake2b-224 digest: key hashes, script hashes, policy ids.
type Hash28 [28]byte

// Hash32 is a blake2b-256 digest: transaction ids, datum hashes.
type Hash32 [32]byte

type (
	KeyHash    = Hash28
	ScriptHash = Hash28
	PolicyId   = Hash28
	TxId       = Hash32
)

func Blake2b224(data []byte) (hash Hash28) {
	h, _ := blake2b.New(28, nil)
	h.Write(data)
	copy(hash[:], h.Sum(nil))
	return
}

func Blake2b256(data []byte) Hash32 {
	return blake2b.Sum256(data)
}

func (h Hash28) String() string { return hex.EncodeToString(h[:]) }
func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

func (h Hash28) Bytes() []byte { return h[:] }
func (h Hash32) Bytes() []byte { return h[:] }

func (h Hash28) Compare(o Hash28) int { return bytes.Compare(h[:], o[:]) }
func (h Hash32) Compare(o Hash32) int { return bytes.Compare(h[:], o[:]) }

func (h Hash28) MarshalCBOR() ([]byte, error) { return cbor.Marshal(h[:]) }
func (h Hash32) MarshalCBOR() ([]byte, error) { return cbor.Marshal(h[:]) }

func (h *Hash28) UnmarshalCBOR(data []byte) error {
	return unmarshalFixed(data, h[:])
}

func (h *Hash32) UnmarshalCBOR(data []byte) error {
	return unmarshalFixed(data, h[:])
}

func (h Hash28) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }
func (h Hash32) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }

func (h *Hash28) UnmarshalJSON(data []byte) (err error) {
	var s string
	if err = json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	*h, err = ParseHash28(s)
	return
}

func (h *Hash32) UnmarshalJSON(data []byte) (err error) {
	var s string
	if err = json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	*h, err = ParseHash32(s)
	return
}

func ParseHash28(s string) (h Hash28, err error) {
	err = decodeHexFixed(s, h[:])
	return
}

func ParseHash32(s string) (h Hash32, err error) {
	err = decodeHexFixed(s, h[:])
	return
}

func decodeHexFixed(s string, out []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "invalid hex '%s'", s)
	}
	if len(b) != len(out) {
		return errors.Errorf("expected %d bytes, got %d", len(out), len(b))
	}
	copy(out, b)
	return nil
}

func unmarshalFixed(data []byte, out []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return errors.WithStack(err)
	}
	if len(b) != len(out) {
		return errors.Errorf("expected %d byte hash, got %d", len(out), len(b))
	}
	copy(out, b)
	return nil
}

// HexBytes is a byte slice rendered as hex in JSON.
type HexBytes []byte

func (b HexBytes) String() string { return hex.EncodeToString(b) }

func (b HexBytes) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return errors.WithStack(err)
	}
	*b = raw
	return nil
}

// HexString is hex text, mostly used for fixtures.
type HexString string

func (s HexString) Bytes() []byte {
	b, _ := hex.DecodeString(string(s))
	return b
}

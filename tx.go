package cardano

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

type TransactionBody struct {
	Inputs          []TransactionInput  `cbor:"0,keyasint"`
	Outputs         []TransactionOutput `cbor:"1,keyasint"`
	Fee             uint64              `cbor:"2,keyasint"`
	Ttl             uint64              `cbor:"3,keyasint,omitempty"`
	ValidityStart   uint64              `cbor:"8,keyasint,omitempty"`
	ScriptDataHash  *Hash32             `cbor:"11,keyasint,omitempty"`
	Collateral      []TransactionInput  `cbor:"13,keyasint,omitempty"`
	RequiredSigners []KeyHash           `cbor:"14,keyasint,omitempty"`
}

type VKeyWitness struct {
	_         struct{} `cbor:",toarray"`
	VKey      []byte
	Signature []byte
}

func (w VKeyWitness) KeyHash() KeyHash {
	return Blake2b224(w.VKey)
}

type WitnessSet struct {
	VKeyWitnesses   []VKeyWitness `cbor:"0,keyasint,omitempty"`
	PlutusV1Scripts [][]byte      `cbor:"3,keyasint,omitempty"`
	PlutusData      []PlutusData  `cbor:"4,keyasint,omitempty"`
	Redeemers       []Redeemer    `cbor:"5,keyasint,omitempty"`
	PlutusV2Scripts [][]byte      `cbor:"6,keyasint,omitempty"`
	PlutusV3Scripts [][]byte      `cbor:"7,keyasint,omitempty"`
}

func (w *WitnessSet) addScript(s PlutusScript) {
	switch s.Language {
	case PlutusV1:
		w.PlutusV1Scripts = appendUniqueBytes(w.PlutusV1Scripts, s.Bytes)
	case PlutusV2:
		w.PlutusV2Scripts = appendUniqueBytes(w.PlutusV2Scripts, s.Bytes)
	case PlutusV3:
		w.PlutusV3Scripts = appendUniqueBytes(w.PlutusV3Scripts, s.Bytes)
	}
}

func appendUniqueBytes(list [][]byte, b []byte) [][]byte {
	for _, existing := range list {
		if string(existing) == string(b) {
			return list
		}
	}
	return append(list, b)
}

// Transaction is a body plus its witnesses, serialised as
// [body, witness_set, is_valid, auxiliary_data].
type Transaction struct {
	Body      TransactionBody
	Witnesses WitnessSet
	Valid     bool

	// bodyRaw keeps the exact body bytes of a decoded transaction so its id
	// does not depend on re-encoding.
	bodyRaw []byte
}

func (t *Transaction) BodyBytes() (b []byte, err error) {
	if t.bodyRaw != nil {
		return t.bodyRaw, nil
	}
	b, err = cborEncoder.Marshal(t.Body)
	err = errors.WithStack(err)
	return
}

// Id is the blake2b-256 hash of the serialised body. Witnesses do not affect
// it.
func (t *Transaction) Id() (id TxId, err error) {
	b, err := t.BodyBytes()
	if err != nil {
		return
	}
	return Blake2b256(b), nil
}

func (t *Transaction) MarshalCBOR() ([]byte, error) {
	body, err := t.BodyBytes()
	if err != nil {
		return nil, err
	}
	witnesses, err := cborEncoder.Marshal(t.Witnesses)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	b, err := cborEncoder.Marshal([]any{
		cbor.RawMessage(body),
		cbor.RawMessage(witnesses),
		t.Valid,
		nil,
	})
	return b, errors.WithStack(err)
}

func (t *Transaction) UnmarshalCBOR(data []byte) (err error) {
	var parts []cbor.RawMessage
	if err = StandardCborDecoder.Unmarshal(data, &parts); err != nil {
		return errors.WithStack(err)
	}
	if len(parts) != 3 && len(parts) != 4 {
		return errors.Errorf("transaction must have 3 or 4 elements, got %d", len(parts))
	}

	out := Transaction{Valid: true}
	if err = StandardCborDecoder.Unmarshal(parts[0], &out.Body); err != nil {
		return errors.Wrap(err, "failed to decode transaction body")
	}
	out.bodyRaw = append([]byte{}, parts[0]...)

	if err = StandardCborDecoder.Unmarshal(parts[1], &out.Witnesses); err != nil {
		return errors.Wrap(err, "failed to decode witness set")
	}

	if len(parts) == 4 {
		if err = StandardCborDecoder.Unmarshal(parts[2], &out.Valid); err != nil {
			return errors.Wrap(err, "failed to decode validity flag")
		}
	}

	*t = out
	return
}

func (t *Transaction) Bytes() ([]byte, error) {
	return t.MarshalCBOR()
}

func (t *Transaction) Hex() (string, error) {
	b, err := t.MarshalCBOR()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func DecodeTransaction(data []byte) (tx *Transaction, err error) {
	tx = &Transaction{}
	if err = tx.UnmarshalCBOR(data); err != nil {
		tx = nil
	}
	return
}

func DecodeTransactionHex(s string) (tx *Transaction, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		err = errors.Wrap(ErrInvalidTransactionInput, "transaction is not hex")
		return
	}
	return DecodeTransaction(b)
}

package cardano

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// TransactionOutput is serialised in the legacy array form
// [address, value, ?datum_hash], which every era since alonzo accepts.
type TransactionOutput struct {
	Address   Address `json:"address"`
	Amount    Value   `json:"value"`
	DatumHash *Hash32 `json:"datumHash,omitempty"`
}

// NewOutput builds a plain payment output.
func NewOutput(addr Address, value Value) (out TransactionOutput, err error) {
	if err = addr.Validate(); err != nil {
		return
	}
	if err = value.Validate(); err != nil {
		return
	}
	out = TransactionOutput{Address: addr, Amount: value.Clone()}
	return
}

// NewScriptOutput builds an output locked by the datum's hash. The datum
// itself is disclosed only when the output is spent.
func NewScriptOutput(addr Address, value Value, datum PlutusData) (out TransactionOutput, err error) {
	if out, err = NewOutput(addr, value); err != nil {
		return
	}
	hash, err := DatumHash(datum)
	if err != nil {
		return
	}
	out.DatumHash = &hash
	return
}

func (o TransactionOutput) MarshalCBOR() ([]byte, error) {
	fields := []any{[]byte(o.Address), o.Amount}
	if o.DatumHash != nil {
		fields = append(fields, *o.DatumHash)
	}
	return cborEncoder.Marshal(fields)
}

func (o *TransactionOutput) UnmarshalCBOR(data []byte) (err error) {
	h, err := readCborHead(data)
	if err != nil {
		return
	}

	if h.major == majorMap {
		return o.unmarshalPostAlonzo(data)
	}

	var fields []cbor.RawMessage
	if err = StandardCborDecoder.Unmarshal(data, &fields); err != nil {
		return errors.WithStack(err)
	}
	if len(fields) < 2 || len(fields) > 3 {
		return errors.Errorf("transaction output has %d fields", len(fields))
	}

	out := TransactionOutput{}
	var addr []byte
	if err = StandardCborDecoder.Unmarshal(fields[0], &addr); err != nil {
		return errors.WithStack(err)
	}
	out.Address = addr
	if err = out.Amount.UnmarshalCBOR(fields[1]); err != nil {
		return
	}
	if len(fields) == 3 {
		out.DatumHash = &Hash32{}
		if err = out.DatumHash.UnmarshalCBOR(fields[2]); err != nil {
			return
		}
	}

	*o = out
	return
}

// unmarshalPostAlonzo reads the babbage map form. Only datum hashes are kept;
// inline datums and reference scripts are outside what this package builds.
func (o *TransactionOutput) unmarshalPostAlonzo(data []byte) (err error) {
	var wire struct {
		Address []byte          `cbor:"0,keyasint"`
		Amount  Value           `cbor:"1,keyasint"`
		Datum   cbor.RawMessage `cbor:"2,keyasint,omitempty"`
	}
	if err = StandardCborDecoder.Unmarshal(data, &wire); err != nil {
		return errors.WithStack(err)
	}

	out := TransactionOutput{Address: wire.Address, Amount: wire.Amount}
	if len(wire.Datum) > 0 {
		var option struct {
			_    struct{} `cbor:",toarray"`
			Kind uint64
			Body cbor.RawMessage
		}
		if err = StandardCborDecoder.Unmarshal(wire.Datum, &option); err != nil {
			return errors.WithStack(err)
		}
		if option.Kind == 0 {
			out.DatumHash = &Hash32{}
			if err = out.DatumHash.UnmarshalCBOR(option.Body); err != nil {
				return
			}
		}
	}

	*o = out
	return
}

// MinLovelace is the minimum lovelace the output must carry under the
// babbage rule (160 + serialised size) * coinsPerUtxoByte.
func MinLovelace(o TransactionOutput, coinsPerUtxoByte uint64) (min uint64, err error) {
	if coinsPerUtxoByte == 0 {
		return
	}
	// size depends on the coin field width, so size the output at its
	// largest plausible coin encoding
	trial := o
	trial.Amount = o.Amount.Clone()
	trial.Amount.Coin = 0xffffffffffff
	b, err := trial.MarshalCBOR()
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	return (160 + uint64(len(b))) * coinsPerUtxoByte, nil
}

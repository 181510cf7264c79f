package cardano

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

type PlutusKind uint8

const (
	PlutusConstr PlutusKind = iota
	PlutusInt
	PlutusBytes
	PlutusList
	PlutusMap
)

// PlutusData is the structured data carried by datums and redeemers. Values
// decoded from CBOR remember their original encoding so that hashing them
// again yields the hash recorded on chain.
type PlutusData struct {
	Kind        PlutusKind
	Constructor uint64
	Fields      []PlutusData // constructor fields or list items
	Int         *big.Int
	Bytes       []byte
	Pairs       []PlutusPair

	raw []byte
}

type PlutusPair struct {
	Key   PlutusData
	Value PlutusData
}

func NewConstr(constructor uint64, fields ...PlutusData) PlutusData {
	return PlutusData{Kind: PlutusConstr, Constructor: constructor, Fields: fields}
}

// Unit is the plutus equivalent of an absent value, constructor 0 with no
// fields.
func Unit() PlutusData {
	return NewConstr(0)
}

func NewInt(i int64) PlutusData {
	return PlutusData{Kind: PlutusInt, Int: big.NewInt(i)}
}

func NewBigInt(i *big.Int) PlutusData {
	return PlutusData{Kind: PlutusInt, Int: new(big.Int).Set(i)}
}

func NewBytes(b []byte) PlutusData {
	return PlutusData{Kind: PlutusBytes, Bytes: append([]byte{}, b...)}
}

func NewList(items ...PlutusData) PlutusData {
	return PlutusData{Kind: PlutusList, Fields: items}
}

func NewMap(pairs ...PlutusPair) PlutusData {
	return PlutusData{Kind: PlutusMap, Pairs: pairs}
}

// DatumHash is blake2b-256 over the datum's CBOR encoding.
func DatumHash(d PlutusData) (hash Hash32, err error) {
	b, err := d.MarshalCBOR()
	if err != nil {
		return
	}
	return Blake2b256(b), nil
}

func (d PlutusData) Equal(o PlutusData) bool {
	a, err1 := d.MarshalCBOR()
	b, err2 := o.MarshalCBOR()
	return err1 == nil && err2 == nil && bytes.Equal(a, b)
}

const plutusBytesChunk = 64

func (d PlutusData) MarshalCBOR() ([]byte, error) {
	return d.appendCbor(nil)
}

func (d PlutusData) appendCbor(buf []byte) (out []byte, err error) {
	if d.raw != nil {
		return append(buf, d.raw...), nil
	}

	switch d.Kind {
	case PlutusConstr:
		switch {
		case d.Constructor < 7:
			buf = appendCborHead(buf, majorTag, 121+d.Constructor)
		case d.Constructor < 128:
			buf = appendCborHead(buf, majorTag, 1280+d.Constructor-7)
		default:
			buf = appendCborHead(buf, majorTag, 102)
			buf = appendCborHead(buf, majorArray, 2)
			buf = appendCborHead(buf, majorUnsigned, d.Constructor)
		}
		return appendPlutusList(buf, d.Fields)

	case PlutusInt:
		if d.Int == nil {
			return nil, errors.New("plutus integer without value")
		}
		b, err := cborEncoder.Marshal(d.Int)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return append(buf, b...), nil

	case PlutusBytes:
		if len(d.Bytes) <= plutusBytesChunk {
			buf = appendCborHead(buf, majorBytes, uint64(len(d.Bytes)))
			return append(buf, d.Bytes...), nil
		}
		buf = appendCborIndefinite(buf, majorBytes)
		for rest := d.Bytes; len(rest) > 0; {
			n := min(len(rest), plutusBytesChunk)
			buf = appendCborHead(buf, majorBytes, uint64(n))
			buf = append(buf, rest[:n]...)
			rest = rest[n:]
		}
		return append(buf, cborBreak), nil

	case PlutusList:
		return appendPlutusList(buf, d.Fields)

	case PlutusMap:
		buf = appendCborHead(buf, majorMap, uint64(len(d.Pairs)))
		for _, p := range d.Pairs {
			if buf, err = p.Key.appendCbor(buf); err != nil {
				return
			}
			if buf, err = p.Value.appendCbor(buf); err != nil {
				return
			}
		}
		return buf, nil
	}

	return nil, errors.Errorf("unknown plutus data kind %d", d.Kind)
}

// Non-empty lists use indefinite length, matching the encoding produced by
// the node and the common serialisation libraries.
func appendPlutusList(buf []byte, items []PlutusData) (out []byte, err error) {
	if len(items) == 0 {
		return appendCborHead(buf, majorArray, 0), nil
	}
	buf = appendCborIndefinite(buf, majorArray)
	for _, item := range items {
		if buf, err = item.appendCbor(buf); err != nil {
			return
		}
	}
	return append(buf, cborBreak), nil
}

func (d *PlutusData) UnmarshalCBOR(data []byte) (err error) {
	h, err := readCborHead(data)
	if err != nil {
		return
	}

	out := PlutusData{raw: append([]byte{}, data...)}

	switch h.major {
	case majorTag:
		var tag cbor.RawTag
		if err = StandardCborDecoder.Unmarshal(data, &tag); err != nil {
			return errors.WithStack(err)
		}
		switch {
		case tag.Number >= 121 && tag.Number <= 127:
			out.Kind, out.Constructor = PlutusConstr, tag.Number-121
			out.Fields, err = decodePlutusList(tag.Content)
		case tag.Number >= 1280 && tag.Number <= 1400:
			out.Kind, out.Constructor = PlutusConstr, tag.Number-1280+7
			out.Fields, err = decodePlutusList(tag.Content)
		case tag.Number == 102:
			var general struct {
				_           struct{} `cbor:",toarray"`
				Constructor uint64
				Fields      cbor.RawMessage
			}
			if err = StandardCborDecoder.Unmarshal(tag.Content, &general); err != nil {
				return errors.WithStack(err)
			}
			out.Kind, out.Constructor = PlutusConstr, general.Constructor
			out.Fields, err = decodePlutusList(general.Fields)
		case tag.Number == 2 || tag.Number == 3:
			out.Kind = PlutusInt
			out.Int = new(big.Int)
			err = errors.WithStack(StandardCborDecoder.Unmarshal(data, out.Int))
		default:
			err = errors.Errorf("unexpected plutus data tag %d", tag.Number)
		}

	case majorUnsigned, majorNegative:
		out.Kind = PlutusInt
		out.Int = new(big.Int)
		err = errors.WithStack(StandardCborDecoder.Unmarshal(data, out.Int))

	case majorBytes:
		out.Kind = PlutusBytes
		err = errors.WithStack(StandardCborDecoder.Unmarshal(data, &out.Bytes))

	case majorArray:
		out.Kind = PlutusList
		out.Fields, err = decodePlutusList(data)

	case majorMap:
		out.Kind = PlutusMap
		var items []cbor.RawMessage
		if items, err = splitCborItems(data, h, 2); err != nil {
			return
		}
		for i := 0; i+1 < len(items); i += 2 {
			var p PlutusPair
			if err = p.Key.UnmarshalCBOR(items[i]); err != nil {
				return
			}
			if err = p.Value.UnmarshalCBOR(items[i+1]); err != nil {
				return
			}
			out.Pairs = append(out.Pairs, p)
		}

	default:
		err = errors.Errorf("cbor major type %d is not plutus data", h.major)
	}

	if err != nil {
		return
	}
	*d = out
	return
}

func decodePlutusList(data []byte) (items []PlutusData, err error) {
	h, err := readCborHead(data)
	if err != nil {
		return
	}
	if h.major != majorArray {
		err = errors.Errorf("expected cbor array, got major type %d", h.major)
		return
	}
	raws, err := splitCborItems(data, h, 1)
	if err != nil {
		return
	}
	items = make([]PlutusData, len(raws))
	for i, raw := range raws {
		if err = items[i].UnmarshalCBOR(raw); err != nil {
			return
		}
	}
	return
}

func (d PlutusData) String() string {
	switch d.Kind {
	case PlutusConstr:
		parts := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			parts[i] = f.String()
		}
		return fmt.Sprintf("Constr %d [%s]", d.Constructor, strings.Join(parts, ", "))
	case PlutusInt:
		return d.Int.String()
	case PlutusBytes:
		return "#" + hex.EncodeToString(d.Bytes)
	case PlutusList:
		parts := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			parts[i] = f.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case PlutusMap:
		parts := make([]string, len(d.Pairs))
		for i, p := range d.Pairs {
			parts[i] = p.Key.String() + ": " + p.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "?"
}

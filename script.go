package cardano

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Language identifies a plutus version as used in cost model maps.
type Language uint8

const (
	PlutusV1 Language = iota
	PlutusV2
	PlutusV3
)

func (l Language) String() string {
	switch l {
	case PlutusV1:
		return "PlutusV1"
	case PlutusV2:
		return "PlutusV2"
	case PlutusV3:
		return "PlutusV3"
	}
	return "unknown"
}

type PlutusScript struct {
	Language Language
	Bytes    []byte
}

// ParsePlutusScript accepts the hex of a compiled validator as emitted by
// aiken or cardano-cli. Double wrapped byte strings are unwrapped once.
func ParsePlutusScript(language Language, scriptHex string) (script PlutusScript, err error) {
	b, err := hex.DecodeString(scriptHex)
	if err != nil {
		err = errors.Wrap(err, "invalid script hex")
		return
	}

	var inner []byte
	if rest, err2 := StandardCborDecoder.UnmarshalFirst(b, &inner); err2 == nil && len(rest) == 0 {
		if h, err3 := readCborHead(inner); err3 == nil && h.major == majorBytes {
			b = inner
		}
	}

	return PlutusScript{Language: language, Bytes: b}, nil
}

// Hash is blake2b-224 over the language tag followed by the script bytes.
func (s PlutusScript) Hash() ScriptHash {
	return Blake2b224(append([]byte{byte(s.Language) + 1}, s.Bytes...))
}

func (s PlutusScript) Address(network Network) Address {
	return NewScriptAddress(network, s.Hash())
}

type RedeemerTag uint8

const (
	RedeemerSpend RedeemerTag = iota
	RedeemerMint
	RedeemerCert
	RedeemerReward
)

func (t RedeemerTag) String() string {
	switch t {
	case RedeemerSpend:
		return "spend"
	case RedeemerMint:
		return "mint"
	case RedeemerCert:
		return "certificate"
	case RedeemerReward:
		return "withdrawal"
	}
	return "unknown"
}

// ParseRedeemerTag reads a redeemer purpose as named by ogmios.
func ParseRedeemerTag(s string) (tag RedeemerTag, err error) {
	switch s {
	case "spend":
		return RedeemerSpend, nil
	case "mint":
		return RedeemerMint, nil
	case "certificate", "publish":
		return RedeemerCert, nil
	case "withdrawal", "withdraw":
		return RedeemerReward, nil
	}
	err = errors.Errorf("unknown redeemer purpose '%s'", s)
	return
}

type ExUnits struct {
	_     struct{} `cbor:",toarray"`
	Mem   uint64   `json:"memory"`
	Steps uint64   `json:"cpu"`
}

func (e ExUnits) IsZero() bool {
	return e.Mem == 0 && e.Steps == 0
}

type Redeemer struct {
	_       struct{} `cbor:",toarray"`
	Tag     RedeemerTag
	Index   uint32
	Data    PlutusData
	ExUnits ExUnits
}

// languageViews encodes the cost models of the languages in use, as required
// for the script data hash.
func languageViews(languages map[Language]bool, costModels map[Language][]int64) (encoded []byte, err error) {
	views := map[any]any{}
	for lang := range languages {
		costs, ok := costModels[lang]
		if !ok {
			err = errors.Errorf("no cost model for %s", lang)
			return
		}

		if lang != PlutusV1 {
			views[uint64(lang)] = costs
			continue
		}

		// PlutusV1 views keep a historical quirk: the key is the serialised
		// language id and the value is an indefinite list inside a byte
		// string.
		key, _ := cborEncoder.Marshal(uint64(PlutusV1))
		list := appendCborIndefinite(nil, majorArray)
		for _, c := range costs {
			b, err2 := cborEncoder.Marshal(c)
			if err2 != nil {
				return nil, errors.WithStack(err2)
			}
			list = append(list, b...)
		}
		list = append(list, cborBreak)
		views[cbor.ByteString(key)] = list
	}

	encoded, err = cborEncoder.Marshal(views)
	err = errors.WithStack(err)
	return
}

// ScriptDataHash commits to the redeemers, datums and language views of a
// transaction.
func ScriptDataHash(redeemers []Redeemer, datums []PlutusData, views []byte) (hash Hash32, err error) {
	buf := []byte{}

	if len(redeemers) == 0 {
		buf = append(buf, 0xa0)
	} else {
		b, err2 := cborEncoder.Marshal(redeemers)
		if err2 != nil {
			return hash, errors.WithStack(err2)
		}
		buf = append(buf, b...)
	}

	if len(datums) > 0 {
		b, err2 := cborEncoder.Marshal(datums)
		if err2 != nil {
			return hash, errors.WithStack(err2)
		}
		buf = append(buf, b...)
	}

	if len(views) == 0 {
		views = []byte{0xa0}
	}
	buf = append(buf, views...)

	return Blake2b256(buf), nil
}

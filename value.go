package cardano

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// AssetName holds raw asset name bytes (at most 32).
type AssetName string

func (n AssetName) Hex() string { return hex.EncodeToString([]byte(n)) }

type MultiAsset map[PolicyId]map[AssetName]uint64

// Value is an amount of lovelace plus native assets. Quantities are never
// negative; Sub reports when a result would be.
type Value struct {
	Coin   uint64
	Assets MultiAsset
}

func NewValue(coin uint64) Value {
	return Value{Coin: coin}
}

func (v Value) WithAsset(policy PolicyId, name AssetName, quantity uint64) Value {
	out := v.Clone()
	if out.Assets == nil {
		out.Assets = MultiAsset{}
	}
	if out.Assets[policy] == nil {
		out.Assets[policy] = map[AssetName]uint64{}
	}
	out.Assets[policy][name] += quantity
	return out
}

func (v Value) Clone() Value {
	out := Value{Coin: v.Coin}
	for policy, assets := range v.Assets {
		for name, qty := range assets {
			if out.Assets == nil {
				out.Assets = MultiAsset{}
			}
			if out.Assets[policy] == nil {
				out.Assets[policy] = map[AssetName]uint64{}
			}
			out.Assets[policy][name] = qty
		}
	}
	return out
}

func (v Value) Quantity(policy PolicyId, name AssetName) uint64 {
	return v.Assets[policy][name]
}

func (v Value) IsAdaOnly() bool {
	for _, assets := range v.Assets {
		for _, qty := range assets {
			if qty > 0 {
				return false
			}
		}
	}
	return true
}

func (v Value) IsZero() bool {
	return v.Coin == 0 && v.IsAdaOnly()
}

func (v Value) Add(o Value) Value {
	out := v.Clone()
	out.Coin += o.Coin
	for policy, assets := range o.Assets {
		for name, qty := range assets {
			out = out.WithAsset(policy, name, qty)
		}
	}
	return out.normalize()
}

// Sub returns v - o. ok is false when any component would go negative.
func (v Value) Sub(o Value) (out Value, ok bool) {
	if v.Coin < o.Coin {
		return
	}
	out = v.Clone()
	out.Coin -= o.Coin
	for policy, assets := range o.Assets {
		for name, qty := range assets {
			have := out.Quantity(policy, name)
			if have < qty {
				return Value{}, false
			}
			if qty > 0 {
				out.Assets[policy][name] = have - qty
			}
		}
	}
	return out.normalize(), true
}

// GreaterOrEqual reports whether v covers every component of o.
func (v Value) GreaterOrEqual(o Value) bool {
	_, ok := v.Sub(o)
	return ok
}

func (v Value) Equal(o Value) bool {
	return v.GreaterOrEqual(o) && o.GreaterOrEqual(v)
}

// contributes reports whether v holds something of a component that need
// still lacks.
func (v Value) contributes(need Value) bool {
	if need.Coin > 0 && v.Coin > 0 {
		return true
	}
	for policy, assets := range need.Assets {
		for name, qty := range assets {
			if qty > 0 && v.Quantity(policy, name) > 0 {
				return true
			}
		}
	}
	return false
}

// shortfall returns the part of target that v does not cover.
func (v Value) shortfall(target Value) Value {
	out := Value{}
	if target.Coin > v.Coin {
		out.Coin = target.Coin - v.Coin
	}
	for policy, assets := range target.Assets {
		for name, qty := range assets {
			if have := v.Quantity(policy, name); have < qty {
				out = out.WithAsset(policy, name, qty-have)
			}
		}
	}
	return out
}

func (v Value) normalize() Value {
	for policy, assets := range v.Assets {
		for name, qty := range assets {
			if qty == 0 {
				delete(assets, name)
			}
		}
		if len(assets) == 0 {
			delete(v.Assets, policy)
		}
	}
	if len(v.Assets) == 0 {
		v.Assets = nil
	}
	return v
}

// Validate rejects zero quantities, which the ledger does not allow in
// outputs.
func (v Value) Validate() error {
	if v.Coin == 0 {
		return errors.Wrap(ErrInvalidValue, "lovelace quantity must be positive")
	}
	for policy, assets := range v.Assets {
		for name, qty := range assets {
			if qty == 0 {
				return errors.Wrapf(ErrInvalidValue, "asset %s.%s has zero quantity", policy, name.Hex())
			}
			if len(name) > 32 {
				return errors.Wrapf(ErrInvalidValue, "asset name %s longer than 32 bytes", name.Hex())
			}
		}
	}
	return nil
}

func (v Value) String() string {
	parts := []string{fmt.Sprintf("%d lovelace", v.Coin)}
	for _, a := range v.sortedAssets() {
		parts = append(parts, fmt.Sprintf("%d %s.%s", a.qty, a.policy, a.name.Hex()))
	}
	return strings.Join(parts, " + ")
}

type assetEntry struct {
	policy PolicyId
	name   AssetName
	qty    uint64
}

func (v Value) sortedAssets() (out []assetEntry) {
	for policy, assets := range v.Assets {
		for name, qty := range assets {
			out = append(out, assetEntry{policy, name, qty})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].policy.Compare(out[j].policy); c != 0 {
			return c < 0
		}
		return out[i].name < out[j].name
	})
	return
}

func (v Value) MarshalCBOR() ([]byte, error) {
	v = v.normalize()
	if v.Assets == nil {
		return cborEncoder.Marshal(v.Coin)
	}

	assets := map[cbor.ByteString]map[cbor.ByteString]uint64{}
	for policy, names := range v.Assets {
		inner := map[cbor.ByteString]uint64{}
		for name, qty := range names {
			inner[cbor.ByteString(name)] = qty
		}
		assets[cbor.ByteString(policy[:])] = inner
	}

	return cborEncoder.Marshal([]any{v.Coin, assets})
}

func (v *Value) UnmarshalCBOR(data []byte) (err error) {
	h, err := readCborHead(data)
	if err != nil {
		return
	}

	if h.major == majorUnsigned {
		*v = Value{}
		return errors.WithStack(StandardCborDecoder.Unmarshal(data, &v.Coin))
	}

	var wire struct {
		_      struct{} `cbor:",toarray"`
		Coin   uint64
		Assets map[cbor.ByteString]map[cbor.ByteString]uint64
	}
	if err = StandardCborDecoder.Unmarshal(data, &wire); err != nil {
		return errors.WithStack(err)
	}

	out := Value{Coin: wire.Coin}
	for policy, names := range wire.Assets {
		if len(policy) != 28 {
			return errors.Errorf("policy id must be 28 bytes, got %d", len(policy))
		}
		var pid PolicyId
		copy(pid[:], policy)
		for name, qty := range names {
			out = out.WithAsset(pid, AssetName(name), qty)
		}
	}
	*v = out.normalize()
	return
}

// MarshalJSON uses the ogmios value layout:
// {"ada":{"lovelace":n},"<policy>":{"<asset hex>":n}}
func (v Value) MarshalJSON() ([]byte, error) {
	out := map[string]map[string]uint64{
		"ada": {"lovelace": v.Coin},
	}
	for _, a := range v.sortedAssets() {
		key := a.policy.String()
		if out[key] == nil {
			out[key] = map[string]uint64{}
		}
		out[key][a.name.Hex()] = a.qty
	}
	return json.Marshal(out)
}

func (v *Value) UnmarshalJSON(data []byte) (err error) {
	*v, err = parseValueJson(gjson.ParseBytes(data))
	return
}

func parseValueJson(res gjson.Result) (v Value, err error) {
	if !res.IsObject() {
		err = errors.Errorf("value must be an object, got %s", res.Raw)
		return
	}
	res.ForEach(func(key, assets gjson.Result) bool {
		if key.String() == "ada" {
			v.Coin = assets.Get("lovelace").Uint()
			return true
		}
		policy, err2 := ParseHash28(key.String())
		if err2 != nil {
			err = errors.Wrap(err2, "invalid policy id")
			return false
		}
		assets.ForEach(func(name, qty gjson.Result) bool {
			raw, err2 := hex.DecodeString(name.String())
			if err2 != nil {
				err = errors.Wrap(err2, "invalid asset name")
				return false
			}
			v = v.WithAsset(policy, AssetName(raw), qty.Uint())
			return true
		})
		return err == nil
	})
	v = v.normalize()
	return
}

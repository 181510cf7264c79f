package cardano

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

type OgmiosChainOptions struct {
	Endpoint  string
	Timeout   time.Duration
	ParamsTTL time.Duration
	Logger    *zerolog.Logger
}

func (o *OgmiosChainOptions) setDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = "ws://localhost:1337"
	}
	if o.Timeout == 0 {
		o.Timeout = time.Second * 30
	}
	if o.ParamsTTL == 0 {
		o.ParamsTTL = time.Minute * 5
	}
	if o.Logger == nil {
		o.Logger = Log()
	}
}

const paramsCacheKey = "protocol-parameters"

// OgmiosChain answers chain queries over a persistent ogmios v6 session.
// Queries are serialised: the session carries one request at a time.
type OgmiosChain struct {
	session *Session
	mu      *sync.Mutex
	cache   *ttlcache.Cache
	log     *zerolog.Logger
}

var _ ChainContext = &OgmiosChain{}
var _ TxEvaluator = &OgmiosChain{}

func NewOgmiosChain(options *OgmiosChainOptions) (chain *OgmiosChain, err error) {
	if options == nil {
		options = &OgmiosChainOptions{}
	}
	options.setDefaults()

	cache := ttlcache.NewCache()
	if err = cache.SetTTL(options.ParamsTTL); err != nil {
		return nil, errors.WithStack(err)
	}
	cache.SkipTTLExtensionOnHit(true)

	chain = &OgmiosChain{
		session: NewSession(&SessionOptions{
			Type:    SessionPersistent,
			Timeout: options.Timeout,
			Transport: &OgmiosTransport{
				Endpoint: options.Endpoint,
				Version:  OgmiosV6,
			},
			Logger: options.Logger,
		}),
		mu:    &sync.Mutex{},
		cache: cache,
		log:   options.Logger,
	}
	return
}

func (c *OgmiosChain) Close() error {
	_ = c.cache.Close()
	return c.session.Close()
}

func (c *OgmiosChain) query(ctx context.Context, method string, params any) (result gjson.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State() == SessionClosed {
		if err = c.session.Open(ctx); err != nil {
			return result, mark(err, ErrChainQuery)
		}
	}

	resp, err := c.session.Request(ctx, &Request{Method: method, Params: params})
	if err != nil {
		return result, mark(err, ErrChainQuery)
	}
	if resp.Error != nil {
		return result, errors.Wrapf(ErrChainQuery, "%s: %s", method, resp.Error)
	}

	return gjson.ParseBytes(resp.Result), nil
}

func (c *OgmiosChain) UtxosAt(ctx context.Context, addr Address) (utxos []Utxo, err error) {
	bech, err := addr.Bech32String()
	if err != nil {
		return
	}

	result, err := c.query(ctx, MethodQueryUtxo, map[string]any{"addresses": []string{bech}})
	if err != nil {
		return
	}

	for _, item := range result.Array() {
		u, err2 := parseOgmiosUtxo(item)
		if err2 != nil {
			return nil, errors.Wrapf(ErrChainQuery, "utxo %s: %v", item.Raw, err2)
		}
		utxos = append(utxos, u)
	}

	c.log.Debug().Msgf("%d utxos at %s", len(utxos), bech)
	return
}

func parseOgmiosUtxo(item gjson.Result) (u Utxo, err error) {
	if u.Input.TxId, err = ParseHash32(item.Get("transaction.id").String()); err != nil {
		return
	}
	u.Input.Index = uint32(item.Get("index").Uint())

	if u.Output.Address, err = DecodeAddress(item.Get("address").String()); err != nil {
		return
	}
	if u.Output.Amount, err = parseValueJson(item.Get("value")); err != nil {
		return
	}
	if datumHash := item.Get("datumHash"); datumHash.Exists() {
		h, err2 := ParseHash32(datumHash.String())
		if err2 != nil {
			return u, err2
		}
		u.Output.DatumHash = &h
	}
	return
}

func (c *OgmiosChain) CurrentSlot(ctx context.Context) (slot uint64, err error) {
	result, err := c.query(ctx, MethodQueryTip, nil)
	if err != nil {
		return
	}
	return result.Get("slot").Uint(), nil
}

func (c *OgmiosChain) ProtocolParameters(ctx context.Context) (params *ProtocolParams, err error) {
	if cached, err2 := c.cache.Get(paramsCacheKey); err2 == nil {
		return cached.(*ProtocolParams), nil
	}

	result, err := c.query(ctx, MethodQueryParameters, nil)
	if err != nil {
		return
	}

	if params, err = parseOgmiosParams(result); err != nil {
		return nil, errors.Wrapf(ErrChainQuery, "protocol parameters: %v", err)
	}

	_ = c.cache.Set(paramsCacheKey, params)
	return
}

func parseRatio(s string) (*big.Rat, error) {
	if s == "" {
		return nil, nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, errors.Errorf("invalid ratio '%s'", s)
	}
	return r, nil
}

func parseOgmiosParams(result gjson.Result) (params *ProtocolParams, err error) {
	params = &ProtocolParams{
		MinFeeA:             result.Get("minFeeCoefficient").Uint(),
		MinFeeB:             result.Get("minFeeConstant.ada.lovelace").Uint(),
		MaxTxSize:           result.Get("maxTransactionSize.bytes").Uint(),
		CoinsPerUtxoByte:    result.Get("minUtxoDepositCoefficient").Uint(),
		CollateralPercent:   result.Get("collateralPercentage").Uint(),
		MaxCollateralInputs: result.Get("maxCollateralInputs").Uint(),
		MaxTxExUnits: ExUnits{
			Mem:   result.Get("maxExecutionUnitsPerTransaction.memory").Uint(),
			Steps: result.Get("maxExecutionUnitsPerTransaction.cpu").Uint(),
		},
		CostModels: map[Language][]int64{},
	}

	if params.PriceMem, err = parseRatio(result.Get("scriptExecutionPrices.memory").String()); err != nil {
		return
	}
	if params.PriceStep, err = parseRatio(result.Get("scriptExecutionPrices.cpu").String()); err != nil {
		return
	}

	for lang, key := range map[Language]string{PlutusV1: "plutus:v1", PlutusV2: "plutus:v2", PlutusV3: "plutus:v3"} {
		model := result.Get("plutusCostModels." + key)
		if !model.Exists() {
			continue
		}
		for _, cost := range model.Array() {
			params.CostModels[lang] = append(params.CostModels[lang], cost.Int())
		}
	}
	return
}

// EvaluateTx asks ogmios to run the scripts of tx and report their budgets.
func (c *OgmiosChain) EvaluateTx(ctx context.Context, tx []byte) (budgets []RedeemerBudget, err error) {
	result, err := c.query(ctx, MethodEvaluateTransaction, map[string]any{
		"transaction": map[string]string{"cbor": hex.EncodeToString(tx)},
	})
	if err != nil {
		return
	}

	for _, item := range result.Array() {
		tag, err2 := ParseRedeemerTag(item.Get("validator.purpose").String())
		if err2 != nil {
			return nil, errors.Wrapf(ErrChainQuery, "evaluation result %s: %v", item.Raw, err2)
		}
		budgets = append(budgets, RedeemerBudget{
			Tag:   tag,
			Index: uint32(item.Get("validator.index").Uint()),
			ExUnits: ExUnits{
				Mem:   item.Get("budget.memory").Uint(),
				Steps: item.Get("budget.cpu").Uint(),
			},
		})
	}
	return
}

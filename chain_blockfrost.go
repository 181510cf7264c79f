package cardano

import (
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const blockfrostPageSize = 100

type BlockfrostChainOptions struct {
	Endpoint  string
	ProjectId string
	Timeout   time.Duration
	ParamsTTL time.Duration
	Logger    *zerolog.Logger
}

func (o *BlockfrostChainOptions) setDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = "https://cardano-preprod.blockfrost.io/api/v0"
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

// BlockfrostChain answers chain queries from the blockfrost REST api.
type BlockfrostChain struct {
	http  *resty.Client
	cache *ttlcache.Cache
	log   *zerolog.Logger
}

var _ ChainContext = &BlockfrostChain{}

func NewBlockfrostChain(options *BlockfrostChainOptions) (chain *BlockfrostChain, err error) {
	if options == nil {
		options = &BlockfrostChainOptions{}
	}
	options.setDefaults()

	cache := ttlcache.NewCache()
	if err = cache.SetTTL(options.ParamsTTL); err != nil {
		return nil, errors.WithStack(err)
	}
	cache.SkipTTLExtensionOnHit(true)

	client := resty.New().
		SetHostURL(options.Endpoint).
		SetTimeout(options.Timeout).
		SetHeader("Accept", "application/json")
	if options.ProjectId != "" {
		client.SetHeader("project_id", options.ProjectId)
	}

	chain = &BlockfrostChain{
		http:  client,
		cache: cache,
		log:   options.Logger,
	}
	return
}

func (c *BlockfrostChain) Close() error {
	return c.cache.Close()
}

// get returns the parsed body, or ok=false for a 404.
func (c *BlockfrostChain) get(ctx context.Context, path string, query map[string]string) (result gjson.Result, ok bool, err error) {
	rsp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return result, false, mark(errors.WithStack(err), ErrChainQuery)
	}

	if rsp.StatusCode() == http.StatusNotFound {
		return result, false, nil
	}
	if rsp.IsError() {
		err = errors.Wrapf(ErrChainQuery, "blockfrost %s: [%d] %s", path, rsp.StatusCode(),
			gjson.GetBytes(rsp.Body(), "message").String())
		return
	}

	return gjson.ParseBytes(rsp.Body()), true, nil
}

func (c *BlockfrostChain) UtxosAt(ctx context.Context, addr Address) (utxos []Utxo, err error) {
	bech, err := addr.Bech32String()
	if err != nil {
		return
	}

	for page := 1; ; page++ {
		result, ok, err2 := c.get(ctx, "/addresses/"+bech+"/utxos", map[string]string{
			"page":  strconv.Itoa(page),
			"count": strconv.Itoa(blockfrostPageSize),
		})
		if err2 != nil {
			return nil, err2
		}
		if !ok {
			break
		}

		items := result.Array()
		for _, item := range items {
			u, err3 := parseBlockfrostUtxo(addr, item)
			if err3 != nil {
				return nil, errors.Wrapf(ErrChainQuery, "utxo %s: %v", item.Raw, err3)
			}
			utxos = append(utxos, u)
		}

		if len(items) < blockfrostPageSize {
			break
		}
	}

	c.log.Debug().Msgf("%d utxos at %s", len(utxos), bech)
	return
}

func parseBlockfrostUtxo(addr Address, item gjson.Result) (u Utxo, err error) {
	if u.Input.TxId, err = ParseHash32(item.Get("tx_hash").String()); err != nil {
		return
	}
	u.Input.Index = uint32(item.Get("output_index").Uint())
	u.Output.Address = addr

	for _, amount := range item.Get("amount").Array() {
		unit := amount.Get("unit").String()
		quantity := amount.Get("quantity").Uint()
		if unit == "lovelace" {
			u.Output.Amount.Coin = quantity
			continue
		}
		if len(unit) < 56 {
			return u, errors.Errorf("invalid asset unit '%s'", unit)
		}
		policy, err2 := ParseHash28(unit[:56])
		if err2 != nil {
			return u, err2
		}
		name, err2 := hex.DecodeString(unit[56:])
		if err2 != nil {
			return u, errors.Wrap(err2, "invalid asset name")
		}
		u.Output.Amount = u.Output.Amount.WithAsset(policy, AssetName(name), quantity)
	}

	if dataHash := item.Get("data_hash"); dataHash.Type == gjson.String {
		h, err2 := ParseHash32(dataHash.String())
		if err2 != nil {
			return u, err2
		}
		u.Output.DatumHash = &h
	}
	return
}

func (c *BlockfrostChain) CurrentSlot(ctx context.Context) (slot uint64, err error) {
	result, ok, err := c.get(ctx, "/blocks/latest", nil)
	if err != nil {
		return
	}
	if !ok {
		return 0, errors.Wrap(ErrChainQuery, "no latest block")
	}
	return result.Get("slot").Uint(), nil
}

func (c *BlockfrostChain) ProtocolParameters(ctx context.Context) (params *ProtocolParams, err error) {
	if cached, err2 := c.cache.Get(paramsCacheKey); err2 == nil {
		return cached.(*ProtocolParams), nil
	}

	result, ok, err := c.get(ctx, "/epochs/latest/parameters", nil)
	if err != nil {
		return
	}
	if !ok {
		return nil, errors.Wrap(ErrChainQuery, "no protocol parameters")
	}

	if params, err = parseBlockfrostParams(result); err != nil {
		return nil, errors.Wrapf(ErrChainQuery, "protocol parameters: %v", err)
	}

	_ = c.cache.Set(paramsCacheKey, params)
	return
}

func parseBlockfrostParams(result gjson.Result) (params *ProtocolParams, err error) {
	params = &ProtocolParams{
		MinFeeA:             result.Get("min_fee_a").Uint(),
		MinFeeB:             result.Get("min_fee_b").Uint(),
		MaxTxSize:           result.Get("max_tx_size").Uint(),
		CoinsPerUtxoByte:    result.Get("coins_per_utxo_size").Uint(),
		CollateralPercent:   result.Get("collateral_percent").Uint(),
		MaxCollateralInputs: result.Get("max_collateral_inputs").Uint(),
		MaxTxExUnits: ExUnits{
			Mem:   result.Get("max_tx_ex_mem").Uint(),
			Steps: result.Get("max_tx_ex_steps").Uint(),
		},
		CostModels: map[Language][]int64{},
	}

	if price := result.Get("price_mem"); price.Exists() && price.Type != gjson.Null {
		if params.PriceMem, err = parseRatio(price.String()); err != nil {
			return
		}
	}
	if price := result.Get("price_step"); price.Exists() && price.Type != gjson.Null {
		if params.PriceStep, err = parseRatio(price.String()); err != nil {
			return
		}
	}

	for _, lang := range []Language{PlutusV1, PlutusV2, PlutusV3} {
		model := result.Get("cost_models_raw." + lang.String())
		if !model.IsArray() {
			continue
		}
		for _, cost := range model.Array() {
			params.CostModels[lang] = append(params.CostModels[lang], cost.Int())
		}
	}
	return
}

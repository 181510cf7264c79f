package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	. "github.com/alexdcox/cardano-go"
	"github.com/alexdcox/cardano-go/rpcclient"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewHttpRpcServer(config *Config, client *Client) (server *HttpRpcServer, err error) {
	registry := prometheus.NewRegistry()
	if err = client.Metrics().Register(registry); err != nil {
		err = errors.WithStack(err)
		return
	}
	if err = registry.Register(prometheus.NewGoCollector()); err != nil {
		err = errors.WithStack(err)
		return
	}

	server = &HttpRpcServer{
		config:   config,
		client:   client,
		registry: registry,
	}

	server.app = fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          config.Timeout + 30*time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})
	server.routes()

	return
}

type HttpRpcServer struct {
	app      *fiber.App
	client   *Client
	config   *Config
	registry *prometheus.Registry
}

func (s *HttpRpcServer) routes() {
	s.app.Use(recover.New())
	s.app.Use(func(c *fiber.Ctx) error {
		rsp := c.Next()
		log.Info().Msgf("http response: [%d] %s - %s %s", c.Response().StatusCode(), c.IP(), c.Method(), c.Path())
		return rsp
	})

	s.app.Get("/status", s.getStatus)
	s.app.Get("/utxo/:address", s.getUtxoForAddress)
	s.app.Get("/tx/:hash", s.getSubmission)
	s.app.Get("/submissions", s.getRecentSubmissions)
	s.app.Post("/tx/build", s.postTransactionBuild)
	s.app.Post("/tx/send", s.postTransactionSend)
	s.app.Post("/tx/broadcast", s.postTransactionBroadcast)
	s.app.Post("/tools/pubkey-to-address", s.postPubkeyToAddress)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

func (s *HttpRpcServer) Start() (err error) {
	log.Info().Msgf("http/rpc server listening on %s", s.config.RpcHostPort)
	return errors.WithStack(s.app.Listen(s.config.RpcHostPort))
}

func (s *HttpRpcServer) Stop() (err error) {
	return errors.WithStack(s.app.Shutdown())
}

// errorStatus groups the library sentinels by the status code they report.
var errorStatus = []struct {
	code   int
	errors []error
}{
	{http.StatusBadGateway, []error{ErrConnection, ErrSubmission, ErrChainQuery}},
	{http.StatusGatewayTimeout, []error{ErrRequestTimeout}},
	{http.StatusServiceUnavailable, []error{ErrSessionBusy}},
	{http.StatusNotFound, []error{ErrSubmissionNotFound}},
	{http.StatusUnprocessableEntity, []error{
		ErrInsufficientFunds,
		ErrNoCollateralAvailable,
		ErrInsufficientCollateral,
		ErrFeeComputationFailed,
		ErrTransactionTooLarge,
	}},
	{http.StatusBadRequest, []error{
		ErrNoInputs,
		ErrNegativeChange,
		ErrDatumMismatch,
		ErrMissingRequiredSigner,
		ErrInvalidValue,
		ErrNetworkMismatch,
		ErrInvalidCollateral,
		ErrOutputBelowMinimum,
		ErrInvalidTransactionInput,
		ErrInvalidAddress,
		ErrInvalidKey,
		ErrScriptMismatch,
	}},
}

func (s *HttpRpcServer) errorResponse(c *fiber.Ctx, err error) error {
	statusCode := http.StatusInternalServerError

	reportedErr := err

	// later groups are more specific and win over the category an error is
	// marked with
	for _, group := range errorStatus {
		for _, match := range group.errors {
			if errors.Is(err, match) {
				reportedErr = match
				statusCode = group.code
			}
		}
	}

	return c.Status(statusCode).JSON(map[string]any{
		"error":   reportedErr.Error(),
		"details": fmt.Sprintf("%+v", err),
	})
}

func (s *HttpRpcServer) unmarshalJson(c *fiber.Ctx, target any) error {
	if err := c.BodyParser(target); err != nil {
		return s.errorResponse(c, errors.Wrapf(ErrInvalidTransactionInput, "invalid json body: %v", err))
	}
	return nil
}

func (s *HttpRpcServer) getStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()
	chain := s.client.Chain()

	slot, err := chain.CurrentSlot(ctx)
	if err != nil {
		return s.errorResponse(c, err)
	}

	pp, err := chain.ProtocolParameters(ctx)
	if err != nil {
		return s.errorResponse(c, err)
	}

	minUtxo, err := MinLovelace(TransactionOutput{
		Address: NewEnterpriseAddress(s.config.Network, KeyHash{}),
		Amount:  NewValue(0),
	}, pp.CoinsPerUtxoByte)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(rpcclient.GetStatusOut{
		Network: s.config.Network,
		Slot:    slot,
		Session: s.client.Session().State().String(),
		Protocol: rpcclient.ProtocolOut{
			CoinsPerUtxoByte:  pp.CoinsPerUtxoByte,
			MaxTxSize:         pp.MaxTxSize,
			MinFeeCoefficient: pp.MinFeeA,
			MinFeeConstant:    pp.MinFeeB,
			MinUtxoThreshold:  minUtxo,
		},
	})
}

func (s *HttpRpcServer) getUtxoForAddress(c *fiber.Ctx) error {
	addr := Address{}
	if err := addr.ParseBech32String(c.Params("address"), s.config.Network); err != nil {
		return s.errorResponse(c, errors.Wrap(ErrInvalidAddress, err.Error()))
	}

	utxos, err := s.client.Chain().UtxosAt(c.UserContext(), addr)
	if err != nil {
		return s.errorResponse(c, err)
	}

	response := rpcclient.GetUtxosForAddressOut{}
	for _, utxo := range utxos {
		out := rpcclient.UtxoOut{
			TxHash:  utxo.Input.TxId.String(),
			Index:   utxo.Input.Index,
			Address: c.Params("address"),
			Amount:  utxo.Output.Amount.Coin,
			Value:   utxo.Output.Amount,
		}
		if utxo.Output.DatumHash != nil {
			out.DatumHash = utxo.Output.DatumHash.String()
		}
		response = append(response, out)
	}

	return c.JSON(response)
}

func (s *HttpRpcServer) getSubmission(c *fiber.Ctx) error {
	id, err := ParseHash32(c.Params("hash"))
	if err != nil {
		return s.errorResponse(c, errors.Wrap(ErrInvalidTransactionInput, err.Error()))
	}

	record, err := s.client.Submission(c.UserContext(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(record)
}

func (s *HttpRpcServer) getRecentSubmissions(c *fiber.Ctx) error {
	records, err := s.client.RecentSubmissions(c.UserContext(), c.QueryInt("limit", 20))
	if err != nil {
		return s.errorResponse(c, err)
	}
	if records == nil {
		records = []*SubmissionRecord{}
	}
	return c.JSON(records)
}

func (s *HttpRpcServer) build(c *fiber.Ctx, in *rpcclient.TransactionBuildIn) (tx *Transaction, out *rpcclient.TransactionBuildOut, err error) {
	keyBytes, err := hex.DecodeString(in.SigningKeyHex)
	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidKey, "signing key is not hex")
	}
	key, err := NewSigningKey(keyBytes)
	if err != nil {
		return
	}

	from := NewEnterpriseAddress(s.config.Network, key.KeyHash())
	if in.From != "" {
		if from, err = DecodeAddress(in.From); err != nil {
			return
		}
	}

	to, err := DecodeAddress(in.To)
	if err != nil {
		return
	}

	ctx := c.UserContext()

	builder, err := s.client.NewTxBuilder(ctx)
	if err != nil {
		return
	}
	if err = builder.AddInputAddress(from); err != nil {
		return
	}

	output, err := NewOutput(to, NewValue(in.Amount))
	if err != nil {
		return
	}
	if err = builder.AddOutput(output); err != nil {
		return
	}

	if in.ValidFor > 0 {
		if err = builder.ValidFor(ctx, in.ValidFor); err != nil {
			return
		}
	}

	if tx, err = s.client.Build(ctx, builder, []*SigningKey{key}, from); err != nil {
		return
	}

	id, err := tx.Id()
	if err != nil {
		return
	}
	rawHex, err := tx.Hex()
	if err != nil {
		return
	}

	out = &rpcclient.TransactionBuildOut{
		Hash:   id.String(),
		RawHex: rawHex,
		Fee:    tx.Body.Fee,
	}
	return
}

func (s *HttpRpcServer) postTransactionBuild(c *fiber.Ctx) error {
	in := &rpcclient.TransactionBuildIn{}
	if err := s.unmarshalJson(c, in); err != nil {
		return err
	}

	_, out, err := s.build(c, in)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(out)
}

func (s *HttpRpcServer) postTransactionSend(c *fiber.Ctx) error {
	in := &rpcclient.TransactionBuildIn{}
	if err := s.unmarshalJson(c, in); err != nil {
		return err
	}

	tx, out, err := s.build(c, in)
	if err != nil {
		return s.errorResponse(c, err)
	}

	result, err := s.client.Submit(c.UserContext(), tx)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(rpcclient.SendTxOut{
		TransactionBuildOut: *out,
		Status:              result.Status,
		Reasons:             result.Reasons,
	})
}

func (s *HttpRpcServer) postTransactionBroadcast(c *fiber.Ctx) error {
	in := &rpcclient.BroadcastTxIn{}
	if err := s.unmarshalJson(c, in); err != nil {
		return err
	}

	raw, err := hex.DecodeString(in.TxHex)
	if err != nil {
		return s.errorResponse(c, errors.Wrap(ErrInvalidTransactionInput, "transaction is not hex"))
	}

	result, err := s.client.Submit(c.UserContext(), RawTransaction(raw))
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(rpcclient.BroadcastTxOut{
		TxHash:  result.TxId.String(),
		Status:  result.Status,
		Reasons: result.Reasons,
	})
}

func (s *HttpRpcServer) postPubkeyToAddress(c *fiber.Ctx) error {
	in := &rpcclient.PublicKeyToAddressIn{}
	if err := s.unmarshalJson(c, in); err != nil {
		return err
	}

	publicKey, err := hex.DecodeString(in.PublicKeyHex)
	if err != nil {
		return s.errorResponse(c, errors.Wrap(ErrInvalidKey, "public key is not hex"))
	}

	addr, err := EncodeAddress(publicKey, s.config.Network, AddressTypePayment)
	if err != nil {
		return s.errorResponse(c, errors.Wrap(ErrInvalidKey, err.Error()))
	}

	bech, err := addr.Bech32String()
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(rpcclient.PublicKeyToAddressOut{Address: bech})
}

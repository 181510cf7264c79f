package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	. "github.com/alexdcox/cardano-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

var log = Log()

const usage = `usage: txsubmit <command> [flags]

commands:
  send     pay lovelace from a key pair's base address to another address
  lock     lock lovelace at a plutus script address for a taker
  unlock   spend a locked output as the taker

run 'txsubmit <command> --help' for the flags of a command
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "send":
		err = send(ctx, os.Args[2:])
	case "lock":
		err = lock(ctx, os.Args[2:])
	case "unlock":
		err = unlock(ctx, os.Args[2:])
	default:
		fmt.Print(usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}
}

type env struct {
	config  *Config
	params  *NetworkParams
	chain   ChainContext
	session *SessionOptions
}

func setup(fs *flag.FlagSet) (e *env, err error) {
	config, err := LoadConfig(fs)
	if err != nil {
		return
	}

	zerolog.SetGlobalLevel(config.Level())
	log.Debug().Msgf("config loaded:\n%s", config)

	params, err := config.Network.Params()
	if err != nil {
		return
	}

	chain, err := NewChainContext(config, log)
	if err != nil {
		return
	}

	transport, err := NewSubmitTransport(config, log)
	if err != nil {
		return
	}

	e = &env{
		config: config,
		params: params,
		chain:  chain,
		session: &SessionOptions{
			Timeout:   config.Timeout,
			Transport: transport,
			LogLevel:  config.LogLevel,
		},
	}
	return
}

func (e *env) close() {
	if closer, ok := e.chain.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func (e *env) builder(ctx context.Context) (builder *TxBuilder, err error) {
	pp, err := e.chain.ProtocolParameters(ctx)
	if err != nil {
		return
	}
	return NewTxBuilder(pp, e.config.Network, WithChain(e.chain)), nil
}

func (e *env) submit(ctx context.Context, tx *Transaction) (err error) {
	id, err := tx.Id()
	if err != nil {
		return
	}
	fmt.Printf("TxID is: %s\n", id)

	fmt.Printf("Submitting the transaction via %s...\n", e.session.Transport)
	result, err := SubmitTx(ctx, e.session, tx)
	if err != nil {
		return
	}

	if !result.Accepted() {
		for _, reason := range result.Reasons {
			fmt.Printf("rejected: %s (%d) %s\n", reason.Kind, reason.Code, reason.Message)
		}
		return errors.Errorf("transaction %s rejected", id)
	}

	fmt.Println("DONE")
	fmt.Printf("Tracking: %s%s\n", e.params.ExplorerUrl, id)
	return
}

// keyPair loads <name>.payment.skey and, when present, hashes
// <name>.stake.vkey for a base address.
type keyPair struct {
	payment *SigningKey
	stake   *KeyHash
}

func loadKeyPair(name string) (pair *keyPair, err error) {
	payment, err := LoadSigningKey(name + ".payment.skey")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load payment key for '%s'", name)
	}
	pair = &keyPair{payment: payment}

	if _, statErr := os.Stat(name + ".stake.vkey"); statErr == nil {
		stake, err2 := LoadVerificationKeyHash(name + ".stake.vkey")
		if err2 != nil {
			return nil, errors.Wrapf(err2, "failed to load stake key for '%s'", name)
		}
		pair.stake = &stake
	}
	return
}

func (k *keyPair) address(network Network) Address {
	if k.stake != nil {
		return NewBaseAddress(network, k.payment.KeyHash(), *k.stake)
	}
	return NewEnterpriseAddress(network, k.payment.KeyHash())
}

func (k *keyPair) enterpriseAddress(network Network) Address {
	return NewEnterpriseAddress(network, k.payment.KeyHash())
}

func send(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	ConfigFlags(fs)
	sender := fs.StringP("sender-address", "s", "", "Sender key name, loads <name>.payment.skey and <name>.stake.vkey")
	receiver := fs.StringP("receiver-address", "r", "", "Receiver bech32 address")
	amount := fs.Uint64P("amount-to-send", "a", 0, "The amount of ADA to send in lovelace")
	ttl := fs.Uint64("ttl", 3600, "Slots the transaction stays valid for, none when 0")
	if err = fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	if *sender == "" || *receiver == "" {
		return errors.New("sender address and receiver address are required")
	}

	e, err := setup(fs)
	if err != nil {
		return
	}
	defer e.close()

	keys, err := loadKeyPair(*sender)
	if err != nil {
		return
	}
	senderAddress := keys.address(e.config.Network)

	receiverAddress, err := DecodeAddress(strings.TrimSpace(*receiver))
	if err != nil {
		return
	}

	fmt.Printf("Sender Address: %s\n", senderAddress)
	fmt.Printf("Receiver Address: %s\n", receiverAddress)
	fmt.Printf("Deposit: %d\n", *amount)

	builder, err := e.builder(ctx)
	if err != nil {
		return
	}
	if err = builder.AddInputAddress(senderAddress); err != nil {
		return
	}

	utxos, err := e.chain.UtxosAt(ctx, senderAddress)
	if err != nil {
		return
	}
	fmt.Printf("UTXOs: %v\n", utxos)

	output, err := NewOutput(receiverAddress, NewValue(*amount))
	if err != nil {
		return
	}
	if err = builder.AddOutput(output); err != nil {
		return
	}

	if *ttl > 0 {
		if err = builder.ValidFor(ctx, *ttl); err != nil {
			return
		}
	}

	tx, err := builder.BuildAndSign(ctx, []*SigningKey{keys.payment}, senderAddress)
	if err != nil {
		return
	}

	return e.submit(ctx, tx)
}

func loadScript(path string) (script PlutusScript, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	return ParsePlutusScript(PlutusV2, strings.TrimSpace(string(data)))
}

// giftDatum names the only key allowed to take a gift.
func giftDatum(taker KeyHash) PlutusData {
	return NewConstr(0, NewBytes(taker[:]))
}

func lock(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	ConfigFlags(fs)
	scriptPath := fs.String("script", "build/gift/script.cbor", "Path to the compiled PlutusV2 script hex")
	giver := fs.String("giver", "giver", "Giver key name, loads <name>.payment.skey")
	taker := fs.String("taker", "taker", "Taker key name, loads <name>.payment.skey")
	amount := fs.Uint64("amount", 50_000_000, "Lovelace to lock")
	if err = fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	e, err := setup(fs)
	if err != nil {
		return
	}
	defer e.close()

	script, err := loadScript(*scriptPath)
	if err != nil {
		return
	}
	scriptAddress := script.Address(e.config.Network)
	fmt.Printf("Gift script address: %s\n", scriptAddress)

	giverKeys, err := loadKeyPair(*giver)
	if err != nil {
		return
	}
	takerKeys, err := loadKeyPair(*taker)
	if err != nil {
		return
	}
	giverAddress := giverKeys.enterpriseAddress(e.config.Network)

	builder, err := e.builder(ctx)
	if err != nil {
		return
	}
	if err = builder.AddInputAddress(giverAddress); err != nil {
		return
	}

	output, err := NewScriptOutput(scriptAddress, NewValue(*amount), giftDatum(takerKeys.payment.KeyHash()))
	if err != nil {
		return
	}
	if err = builder.AddOutput(output); err != nil {
		return
	}

	tx, err := builder.BuildAndSign(ctx, []*SigningKey{giverKeys.payment}, giverAddress)
	if err != nil {
		return
	}

	if txHex, err2 := tx.Hex(); err2 == nil {
		fmt.Printf("Signed transaction: %s\n", txHex)
	}

	return e.submit(ctx, tx)
}

func unlock(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	ConfigFlags(fs)
	scriptPath := fs.String("script", "build/gift/script.cbor", "Path to the compiled PlutusV2 script hex")
	taker := fs.String("taker", "taker", "Taker key name, loads <name>.payment.skey")
	amount := fs.Uint64("amount", 25_123_456, "Lovelace paid to the taker")
	if err = fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	e, err := setup(fs)
	if err != nil {
		return
	}
	defer e.close()

	script, err := loadScript(*scriptPath)
	if err != nil {
		return
	}
	scriptAddress := script.Address(e.config.Network)

	takerKeys, err := loadKeyPair(*taker)
	if err != nil {
		return
	}
	takerHash := takerKeys.payment.KeyHash()
	takerAddress := takerKeys.enterpriseAddress(e.config.Network)
	datum := giftDatum(takerHash)
	datumHash, err := DatumHash(datum)
	if err != nil {
		return
	}

	locked, err := e.chain.UtxosAt(ctx, scriptAddress)
	if err != nil {
		return
	}
	var gift *Utxo
	for i, u := range locked {
		if u.Output.DatumHash != nil && *u.Output.DatumHash == datumHash {
			gift = &locked[i]
			break
		}
	}
	if gift == nil {
		return errors.Errorf("no gift for %s at %s", takerHash, scriptAddress)
	}

	takerUtxos, err := e.chain.UtxosAt(ctx, takerAddress)
	if err != nil {
		return
	}
	collateral, err := SelectCollateral(takerUtxos)
	if err != nil {
		return
	}

	builder, err := e.builder(ctx)
	if err != nil {
		return
	}
	if err = builder.AddScriptInput(*gift, script, datum, Redeemer{Data: Unit()}); err != nil {
		return
	}

	output, err := NewOutput(takerAddress, NewValue(*amount))
	if err != nil {
		return
	}
	if err = builder.AddOutput(output); err != nil {
		return
	}
	if err = builder.SetCollateral(collateral); err != nil {
		return
	}
	builder.SetRequiredSigners(takerHash)

	tx, err := builder.BuildAndSign(ctx, []*SigningKey{takerKeys.payment}, takerAddress)
	if err != nil {
		return
	}

	return e.submit(ctx, tx)
}

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	. "github.com/alexdcox/cardano-go"
	flag "github.com/spf13/pflag"
)

var log = Log()

func main() {
	address := flag.String("address", "", "A bech32 or base58 address to decode")
	key := flag.String("key", "", "A signing key as hex, or a path to a cardano-cli .skey file, to derive addresses from")
	flag.Parse()

	switch {
	case *address != "":
		decode(strings.Trim(*address, " \""))
	case *key != "":
		derive(strings.Trim(*key, " \""))
	default:
		fmt.Println("usage: addr_decode --address ADDRESS | --key KEY")
		os.Exit(2)
	}
}

func decode(address string) {
	fmt.Printf("\ndecoding address:  %s\n\n", address)

	decoded, err := DecodeAddress(address)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	typ, err := decoded.Type()
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	network, err := decoded.Network()
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	fmt.Printf("addr type:         %s\n", typ)
	fmt.Printf("addr network:      %s\n", network)
	fmt.Printf("addr (8-bit):      %x\n", []byte(decoded))

	if cred, err := decoded.PaymentCredential(); err == nil {
		kind := "key"
		if cred.Kind == CredentialScript {
			kind = "script"
		}
		fmt.Printf("payment cred:      %s %s\n", kind, cred.Hash)
	}
}

func derive(key string) {
	var signingKey *SigningKey
	var err error

	if raw, hexErr := hex.DecodeString(key); hexErr == nil {
		signingKey, err = NewSigningKey(raw)
	} else {
		signingKey, err = LoadSigningKey(key)
	}
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	fmt.Printf("\npublic key:        %x\n", []byte(signingKey.VerificationKey()))
	fmt.Printf("key hash:          %s\n", signingKey.KeyHash())
	if vkh, err := KeyHashBech32(signingKey.KeyHash()); err == nil {
		fmt.Printf("key hash (bech32): %s\n", vkh)
	}
	fmt.Println("")

	for _, net := range []Network{
		NetworkMainNet,
		NetworkPreProd,
		NetworkPreview,
		NetworkPrivateNet,
	} {
		addr := NewEnterpriseAddress(net, signingKey.KeyHash())
		bech, err := addr.Bech32String()
		if err != nil {
			log.Fatal().Msgf("%+v", err)
		}
		fmt.Printf("%-18s %s\n", net+":", bech)
	}
}

package cardano

import "github.com/pkg/errors"

func init() {
	MainNetParams.Name = NetworkMainNet
	MainNetParams.Magic = NetworkMagicMainNet
	MainNetParams.Id = NetworkIdMainNet
	MainNetParams.AddressPrefix = "addr"
	MainNetParams.DelegationPrefix = "stake"
	MainNetParams.BlockfrostUrl = "https://cardano-mainnet.blockfrost.io/api/v0"
	MainNetParams.ExplorerUrl = "https://cardanoscan.io/transaction/"

	PreProdParams.Name = NetworkPreProd
	PreProdParams.Magic = NetworkMagicPreProd
	PreProdParams.Id = NetworkIdTestNet
	PreProdParams.AddressPrefix = "addr_test"
	PreProdParams.DelegationPrefix = "stake_test"
	PreProdParams.BlockfrostUrl = "https://cardano-preprod.blockfrost.io/api/v0"
	PreProdParams.ExplorerUrl = "https://preprod.cardanoscan.io/transaction/"

	PreviewParams.Name = NetworkPreview
	PreviewParams.Magic = NetworkMagicPreview
	PreviewParams.Id = NetworkIdTestNet
	PreviewParams.AddressPrefix = "addr_test"
	PreviewParams.DelegationPrefix = "stake_test"
	PreviewParams.BlockfrostUrl = "https://cardano-preview.blockfrost.io/api/v0"
	PreviewParams.ExplorerUrl = "https://preview.cardanoscan.io/transaction/"

	PrivateNetParams.Name = NetworkPrivateNet
	PrivateNetParams.Magic = NetworkMagicPrivateNet
	PrivateNetParams.Id = NetworkIdTestNet
	PrivateNetParams.AddressPrefix = "addr_test"
	PrivateNetParams.DelegationPrefix = "stake_test"
}

type NetworkParams struct {
	Name             Network
	Magic            NetworkMagic
	Id               NetworkId
	AddressPrefix    string
	DelegationPrefix string
	BlockfrostUrl    string
	ExplorerUrl      string
}

var MainNetParams = NetworkParams{}
var PreProdParams = NetworkParams{}
var PreviewParams = NetworkParams{}
var PrivateNetParams = NetworkParams{}

const (
	NetworkMainNet    Network = "mainnet"
	NetworkPreProd    Network = "preprod"
	NetworkPreview    Network = "preview"
	NetworkPrivateNet Network = "privnet"
)

type Network string

func (n Network) Valid() bool {
	return n == NetworkMainNet || n == NetworkPreProd || n == NetworkPreview || n == NetworkPrivateNet
}

func (n Network) Validate() (err error) {
	if !n.Valid() {
		err = errors.Errorf("invalid network: '%s'", n)
	}
	return
}

func (n Network) Params() (params *NetworkParams, err error) {
	if err = n.Validate(); err != nil {
		return
	}

	switch n {
	case NetworkMainNet:
		return &MainNetParams, nil
	case NetworkPreProd:
		return &PreProdParams, nil
	case NetworkPreview:
		return &PreviewParams, nil
	case NetworkPrivateNet:
		return &PrivateNetParams, nil
	}

	return
}

// Id returns the address header network id, defaulting to testnet for
// unknown networks.
func (n Network) Id() NetworkId {
	if n == NetworkMainNet {
		return NetworkIdMainNet
	}
	return NetworkIdTestNet
}

// NetworkId is the low nibble of a shelley address header.
type NetworkId uint8

const (
	NetworkIdTestNet NetworkId = 0
	NetworkIdMainNet NetworkId = 1
)

func (n NetworkId) String() string {
	if n == NetworkIdMainNet {
		return "mainnet"
	}
	return "testnet"
}

type NetworkMagic uint64

const (
	NetworkMagicMainNet       NetworkMagic = 764824073
	NetworkMagicLegacyTestnet NetworkMagic = 1097911063
	NetworkMagicPreProd       NetworkMagic = 1
	NetworkMagicPreview       NetworkMagic = 2
	NetworkMagicSanchonet     NetworkMagic = 4
	NetworkMagicPrivateNet    NetworkMagic = 42
)

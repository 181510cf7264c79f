package cardano

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/fxamacker/cbor/v2"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Address holds raw address bytes: a shelley header byte followed by
// credentials, or a complete byron address.
type Address []byte

const (
	AddressTypePaymentAndStake   AddressType = 0
	AddressTypeScriptAndStake    AddressType = 1
	AddressTypePaymentAndScript  AddressType = 2
	AddressTypeScriptAndScript   AddressType = 3
	AddressTypePaymentAndPointer AddressType = 4
	AddressTypeScriptAndPointer  AddressType = 5
	AddressTypePayment           AddressType = 6
	AddressTypeScript            AddressType = 7
	AddressTypeByron             AddressType = 8
	AddressTypeStakeReward       AddressType = 14
	AddressTypeScriptReward      AddressType = 15
)

type AddressType uint8

func (a AddressType) String() string {
	switch a {
	case AddressTypePaymentAndStake:
		return "payment and stake"
	case AddressTypeScriptAndStake:
		return "script and stake"
	case AddressTypePaymentAndScript:
		return "payment and script"
	case AddressTypeScriptAndScript:
		return "script and script"
	case AddressTypePaymentAndPointer:
		return "payment and pointer"
	case AddressTypeScriptAndPointer:
		return "script and pointer"
	case AddressTypePayment:
		return "payment"
	case AddressTypeScript:
		return "script"
	case AddressTypeByron:
		return "byron"
	case AddressTypeStakeReward:
		return "stake reward"
	case AddressTypeScriptReward:
		return "script reward"
	}
	return fmt.Sprintf("unknown (%d)", uint8(a))
}

// payloadLength is the expected byte length after the header.
func (a AddressType) payloadLength() (n int, ok bool) {
	switch a {
	case AddressTypePaymentAndStake, AddressTypeScriptAndStake,
		AddressTypePaymentAndScript, AddressTypeScriptAndScript:
		return 56, true
	case AddressTypePayment, AddressTypeScript,
		AddressTypeStakeReward, AddressTypeScriptReward:
		return 28, true
	case AddressTypePaymentAndPointer, AddressTypeScriptAndPointer:
		// pointers are variable length
		return -1, true
	}
	return 0, false
}

func (a AddressType) IsReward() bool {
	return a == AddressTypeStakeReward || a == AddressTypeScriptReward
}

type CredentialKind uint8

const (
	CredentialKey CredentialKind = iota
	CredentialScript
)

type Credential struct {
	Kind CredentialKind
	Hash Hash28
}

func NewEnterpriseAddress(network Network, payment KeyHash) Address {
	return newShelleyAddress(AddressTypePayment, network, payment[:])
}

func NewScriptAddress(network Network, script ScriptHash) Address {
	return newShelleyAddress(AddressTypeScript, network, script[:])
}

func NewBaseAddress(network Network, payment KeyHash, stake KeyHash) Address {
	return newShelleyAddress(AddressTypePaymentAndStake, network, payment[:], stake[:])
}

func newShelleyAddress(typ AddressType, network Network, parts ...[]byte) Address {
	addr := Address{byte(typ)<<4 | byte(network.Id())}
	for _, p := range parts {
		addr = append(addr, p...)
	}
	return addr
}

// EncodeAddress accepts an Ed25519 public key and returns the enterprise
// payment address for it.
func EncodeAddress(publicKey []byte, net Network, typ AddressType) (addr Address, err error) {
	if err = net.Validate(); err != nil {
		return
	}

	if typ != AddressTypePayment {
		err = errors.Errorf("cannot derive a %s address from a single key", typ)
		return
	}

	if len(publicKey) != ed25519.PublicKeySize {
		err = errors.Errorf(
			"expected a %d length ed25519 public key, got %d bytes",
			ed25519.PublicKeySize,
			len(publicKey))
		return
	}

	addr = NewEnterpriseAddress(net, Blake2b224(publicKey))
	return
}

func (a Address) Type() (typ AddressType, err error) {
	if len(a) == 0 {
		err = errors.Wrap(ErrInvalidAddress, "empty address")
		return
	}
	typ = AddressType(a[0] >> 4)
	if _, ok := typ.payloadLength(); !ok && typ != AddressTypeByron {
		err = errors.Wrapf(ErrInvalidAddress, "unknown header type %d", typ)
	}
	return
}

func (a Address) Validate() (err error) {
	typ, err := a.Type()
	if err != nil {
		return
	}
	if typ == AddressTypeByron {
		_, err = a.byronNetwork()
		return
	}
	n, _ := typ.payloadLength()
	if n > 0 && len(a)-1 != n {
		err = errors.Wrapf(ErrInvalidAddress, "%s address expects %d payload bytes, got %d", typ, n, len(a)-1)
	}
	if n < 0 && len(a) < 30 {
		err = errors.Wrapf(ErrInvalidAddress, "%s address too short", typ)
	}
	return
}

// Network returns the network id encoded in the address.
func (a Address) Network() (net NetworkId, err error) {
	typ, err := a.Type()
	if err != nil {
		return
	}
	if typ == AddressTypeByron {
		return a.byronNetwork()
	}
	return NetworkId(a[0] & 0x0f), nil
}

func (a Address) IsForNetwork(network Network) bool {
	id, err := a.Network()
	return err == nil && id == network.Id()
}

// PaymentCredential is the credential that controls spending from the
// address. Byron and reward addresses have none.
func (a Address) PaymentCredential() (cred Credential, err error) {
	if err = a.Validate(); err != nil {
		return
	}
	typ, _ := a.Type()
	if typ == AddressTypeByron || typ.IsReward() {
		err = errors.Wrapf(ErrInvalidAddress, "%s address has no payment credential", typ)
		return
	}
	copy(cred.Hash[:], a[1:29])
	if typ&1 == 1 {
		cred.Kind = CredentialScript
	}
	return
}

// IsScript reports whether spending from the address is controlled by a
// script.
func (a Address) IsScript() bool {
	cred, err := a.PaymentCredential()
	return err == nil && cred.Kind == CredentialScript
}

func (a Address) prefix() (prefix string, err error) {
	typ, err := a.Type()
	if err != nil {
		return
	}
	params := &MainNetParams
	if NetworkId(a[0]&0x0f) != NetworkIdMainNet {
		params = &PrivateNetParams
	}
	if typ.IsReward() {
		return params.DelegationPrefix, nil
	}
	return params.AddressPrefix, nil
}

func (a Address) Bech32String() (encoded string, err error) {
	typ, err := a.Type()
	if err != nil {
		return
	}
	if typ == AddressTypeByron {
		err = errors.Wrap(ErrInvalidAddress, "byron addresses have no bech32 form")
		return
	}

	prefix, err := a.prefix()
	if err != nil {
		return
	}

	encoded, err = bech32.ConvertAndEncode(prefix, a)
	if err != nil {
		err = errors.Errorf("failed to convert to bech32: %+v", err)
	}
	return
}

// String renders bech32 for shelley addresses, base58 for byron and hex when
// neither applies.
func (a Address) String() string {
	typ, err := a.Type()
	if err != nil {
		return hex.EncodeToString(a)
	}
	if typ == AddressTypeByron {
		return base58.Encode(a)
	}
	if s, err := a.Bech32String(); err == nil {
		return s
	}
	return hex.EncodeToString(a)
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) (err error) {
	var s string
	if err = json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	*a, err = DecodeAddress(s)
	return
}

// ParseBech32String decodes a bech32 address and checks that it belongs to
// network.
func (a *Address) ParseBech32String(encoded string, network Network) (err error) {
	prefix, addr, err := bech32.DecodeAndConvert(encoded)
	if err != nil {
		return errors.Wrapf(ErrInvalidAddress, "failed to decode bech32 address: %+v", err)
	}

	decoded := Address(addr)
	if err = decoded.Validate(); err != nil {
		return
	}

	expected, err := decoded.prefix()
	if err != nil {
		return
	}
	if prefix != expected {
		return errors.Wrapf(ErrInvalidAddress, "prefix '%s' does not match header, expected '%s'", prefix, expected)
	}

	if network != "" && !decoded.IsForNetwork(network) {
		return errors.Wrapf(ErrNetworkMismatch, "address %s is not for %s", encoded, network)
	}

	*a = decoded
	return nil
}

// DecodeAddress accepts bech32 shelley or base58 byron text.
func DecodeAddress(address string) (decoded Address, err error) {
	if strings.HasPrefix(address, "addr") || strings.HasPrefix(address, "stake") {
		err = decoded.ParseBech32String(address, "")
		return
	}

	raw, err := base58.Decode(address)
	if err != nil {
		err = errors.Wrapf(ErrInvalidAddress, "'%s' is neither bech32 nor base58", address)
		return
	}
	decoded = raw
	if err = decoded.Validate(); err != nil {
		decoded = nil
	}
	return
}

// byronNetwork reads the protocol magic attribute of a byron address:
// [#6.24(bytes .cbor [root, attributes, type]), crc32]
func (a Address) byronNetwork() (net NetworkId, err error) {
	var outer struct {
		_       struct{} `cbor:",toarray"`
		Payload cbor.Tag
		Crc     uint32
	}
	if err = cbor.Unmarshal(a, &outer); err != nil {
		err = errors.Wrapf(ErrInvalidAddress, "byron address: %v", err)
		return
	}

	content, ok := outer.Payload.Content.([]byte)
	if outer.Payload.Number != 24 || !ok {
		err = errors.Wrap(ErrInvalidAddress, "byron address payload is not tagged cbor")
		return
	}
	if crc32.ChecksumIEEE(content) != outer.Crc {
		err = errors.Wrap(ErrInvalidAddress, "byron address checksum mismatch")
		return
	}

	var inner struct {
		_          struct{} `cbor:",toarray"`
		Root       []byte
		Attributes map[uint64]cbor.RawMessage
		Type       uint64
	}
	if err = cbor.Unmarshal(content, &inner); err != nil {
		err = errors.Wrapf(ErrInvalidAddress, "byron address payload: %v", err)
		return
	}

	if _, hasMagic := inner.Attributes[2]; hasMagic {
		return NetworkIdTestNet, nil
	}
	return NetworkIdMainNet, nil
}

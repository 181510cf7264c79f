package rpcclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	. "github.com/alexdcox/cardano-go"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

func NewRpcClient(hostPort string, network Network) (client *RpcClient, err error) {
	if err = network.Validate(); err != nil {
		return
	}

	client = &RpcClient{
		HostPort: hostPort,
		Network:  network,
		http: resty.New().
			SetHostURL(hostPort).
			SetTimeout(time.Minute).
			SetHeader("Accept", "application/json"),
	}
	return
}

type RpcClient struct {
	HostPort string
	Network  Network
	http     *resty.Client
}

func (c *RpcClient) req(method string, path string, in any, target any) (err error) {
	req := c.http.R()
	if in != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(in)
	}

	rsp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(ErrRpcFailed, "%s %s: %v", method, path, err)
	}

	if rsp.IsError() {
		errRsp := &RpcError{}
		if decodeErr := json.Unmarshal(rsp.Body(), errRsp); decodeErr == nil && errRsp.Err != "" {
			err = errRsp

			if stdErr := errRsp.StdErr(); stdErr != nil {
				err = stdErr
			}

			return
		}

		return errors.Wrapf(ErrRpcFailed, "rpc response code %d with body %s", rsp.StatusCode(), rsp.String())
	}

	if target == nil {
		return
	}

	if err = json.Unmarshal(rsp.Body(), target); err != nil {
		err = errors.Wrapf(err, "unable to unmarshal body: %s", rsp.String())
	}
	return
}

func (c *RpcClient) get(path string, target any) (err error) {
	return c.req(http.MethodGet, path, nil, target)
}

func (c *RpcClient) post(path string, in any, target any) (err error) {
	return c.req(http.MethodPost, path, in, target)
}

type ProtocolOut struct {
	CoinsPerUtxoByte  uint64 `json:"coinsPerUtxoByte"`
	MaxTxSize         uint64 `json:"maxTxSize"`
	MinFeeCoefficient uint64 `json:"minFeeCoefficient"`
	MinFeeConstant    uint64 `json:"minFeeConstant"`
	MinUtxoThreshold  uint64 `json:"minUtxoThreshold"`
}

type GetStatusOut struct {
	Network  Network     `json:"network"`
	Slot     uint64      `json:"slot"`
	Session  string      `json:"session"`
	Protocol ProtocolOut `json:"fees"`
}

func (c *RpcClient) GetStatus() (out *GetStatusOut, err error) {
	out = &GetStatusOut{}
	err = c.get("/status", out)
	return
}

type UtxoOut struct {
	TxHash    string `json:"txHash"`
	Index     uint32 `json:"index"`
	Address   string `json:"address"`
	Amount    uint64 `json:"amount"`
	Value     Value  `json:"value"`
	DatumHash string `json:"datumHash,omitempty"`
}

type GetUtxosForAddressOut []UtxoOut

func (c *RpcClient) GetUtxosForAddress(addr Address) (out GetUtxosForAddressOut, err error) {
	bech, err := addr.Bech32String()
	if err != nil {
		return
	}
	out = GetUtxosForAddressOut{}
	err = c.get(fmt.Sprintf("/utxo/%s", bech), &out)
	return
}

type TransactionBuildIn struct {
	SigningKeyHex string `json:"signingKeyHex"`
	// From defaults to the enterprise address of the signing key.
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Amount   uint64 `json:"amount"`
	ValidFor uint64 `json:"validFor,omitempty"`
}

type TransactionBuildOut struct {
	Hash   string `json:"hash"`
	RawHex string `json:"rawHex"`
	Fee    uint64 `json:"fee"`
}

// Transaction decodes the built transaction.
func (o *TransactionBuildOut) Transaction() (tx *Transaction, err error) {
	if o == nil {
		return nil, errors.New("transaction build out is nil")
	}
	return DecodeTransactionHex(o.RawHex)
}

func (c *RpcClient) BuildTx(in *TransactionBuildIn) (out *TransactionBuildOut, err error) {
	out = &TransactionBuildOut{}
	err = c.post("/tx/build", in, out)
	return
}

type SendTxOut struct {
	TransactionBuildOut
	Status  SubmitStatus      `json:"status"`
	Reasons []RejectionReason `json:"reasons,omitempty"`
}

func (c *RpcClient) SendTx(in *TransactionBuildIn) (out *SendTxOut, err error) {
	out = &SendTxOut{}
	err = c.post("/tx/send", in, out)
	return
}

type BroadcastTxIn struct {
	TxHex string `json:"tx"`
}

type BroadcastTxOut struct {
	TxHash  string            `json:"txHash"`
	Status  SubmitStatus      `json:"status"`
	Reasons []RejectionReason `json:"reasons,omitempty"`
}

func (c *RpcClient) BroadcastTx(in *BroadcastTxIn) (out *BroadcastTxOut, err error) {
	out = &BroadcastTxOut{}
	err = c.post("/tx/broadcast", in, out)
	return
}

func (c *RpcClient) GetSubmission(hash string) (out *SubmissionRecord, err error) {
	out = &SubmissionRecord{}
	err = c.get(fmt.Sprintf("/tx/%s", hash), out)
	return
}

func (c *RpcClient) GetRecentSubmissions(limit int) (out []*SubmissionRecord, err error) {
	err = c.get("/submissions?limit="+strconv.Itoa(limit), &out)
	return
}

type PublicKeyToAddressIn struct {
	PublicKeyHex string `json:"publicKeyHex"`
}

type PublicKeyToAddressOut struct {
	Address string `json:"address"`
}

func (c *RpcClient) PublicKeyToAddress(in *PublicKeyToAddressIn) (out *PublicKeyToAddressOut, err error) {
	out = &PublicKeyToAddressOut{}
	err = c.post("/tools/pubkey-to-address", in, out)
	return
}

type RpcError struct {
	Err     string `json:"error"`
	Details string `json:"details"`
}

func (r *RpcError) Error() string {
	return r.Err
}

// StdErr maps the reported error back onto the library sentinel of the same
// message, so callers can use errors.Is across the wire.
func (r *RpcError) StdErr() error {
	for _, a := range AllErrors {
		if r.Err == a.Error() {
			return errors.Wrap(a, r.Details)
		}
	}
	return nil
}

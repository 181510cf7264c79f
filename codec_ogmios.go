package cardano

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	MethodSubmitTransaction   = "submitTransaction"
	MethodEvaluateTransaction = "evaluateTransaction"
	MethodQueryUtxo           = "queryLedgerState/utxo"
	MethodQueryTip            = "queryLedgerState/tip"
	MethodQueryParameters     = "queryLedgerState/protocolParameters"
)

// OgmiosRejectionKinds names the ogmios v6 submission error codes.
var OgmiosRejectionKinds = map[int]string{
	3005: "eraMismatch",
	3010: "scriptExecutionFailure",
	3100: "invalidSignatories",
	3101: "missingSignatories",
	3102: "missingScripts",
	3117: "unknownOutputReferences",
	3118: "outsideOfValidityInterval",
	3119: "transactionTooLarge",
	3121: "emptyInputSet",
	3122: "transactionFeeTooSmall",
	3123: "valueNotConserved",
	3124: "networkMismatch",
	3125: "insufficientlyFundedOutputs",
}

func ogmiosRejectionKind(code int) string {
	if kind, ok := OgmiosRejectionKinds[code]; ok {
		return kind
	}
	return "submissionFailure"
}

// OgmiosCodec speaks ogmios v6 JSON-RPC 2.0.
type OgmiosCodec struct{}

func (OgmiosCodec) NewSubmitRequest(tx []byte) *Request {
	return &Request{
		Method: MethodSubmitTransaction,
		Params: map[string]any{
			"transaction": map[string]string{"cbor": hex.EncodeToString(tx)},
		},
	}
}

type jsonRpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

func (OgmiosCodec) EncodeRequest(req *Request) ([]byte, error) {
	b, err := json.Marshal(jsonRpcRequest{
		Jsonrpc: "2.0",
		Method:  req.Method,
		Params:  req.Params,
		ID:      req.ID,
	})
	return b, errors.WithStack(err)
}

// rawJson returns a value found by jsonparser as a standalone document.
// jsonparser strips the quotes off strings.
func rawJson(value []byte, dataType jsonparser.ValueType) []byte {
	if dataType == jsonparser.String {
		return []byte(`"` + string(value) + `"`)
	}
	return value
}

func (OgmiosCodec) DecodeResponse(frame []byte) (resp *Response, err error) {
	resp = &Response{}

	if id, dataType, _, err2 := jsonparser.Get(frame, "id"); err2 == nil && dataType != jsonparser.Null {
		resp.ID = string(id)
	}
	resp.Method, _ = jsonparser.GetString(frame, "method")

	if value, dataType, _, err2 := jsonparser.Get(frame, "result"); err2 == nil {
		resp.Result = rawJson(value, dataType)
	}

	if value, _, _, err2 := jsonparser.Get(frame, "error"); err2 == nil {
		e := &ResponseError{}
		if err = json.Unmarshal(value, e); err != nil {
			return nil, errors.Wrapf(ErrMalformedFrame, "error object %s", value)
		}
		resp.Error = e
	}

	if resp.Result == nil && resp.Error == nil {
		return nil, errors.Wrapf(ErrMalformedFrame, "neither result nor error in %s", frame)
	}
	return
}

func (OgmiosCodec) DecodeSubmitResult(resp *Response) (result *SubmitResult, err error) {
	if resp.Error != nil {
		if resp.Error.Code < 3000 || resp.Error.Code >= 4000 {
			return nil, mark(resp.Error, ErrSubmission)
		}
		return &SubmitResult{
			Status: SubmitRejected,
			Reasons: []RejectionReason{{
				Code:    resp.Error.Code,
				Kind:    ogmiosRejectionKind(resp.Error.Code),
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}},
		}, nil
	}

	id := gjson.GetBytes(resp.Result, "transaction.id")
	if !id.Exists() {
		return nil, errors.Wrapf(ErrMalformedFrame, "no transaction id in %s", resp.Result)
	}
	txId, err := ParseHash32(id.String())
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	return &SubmitResult{Status: SubmitAccepted, TxId: txId}, nil
}

// OgmiosV5Codec speaks the older ogmios v5 jsonwsp protocol.
type OgmiosV5Codec struct{}

func (OgmiosV5Codec) NewSubmitRequest(tx []byte) *Request {
	return &Request{
		Method: "SubmitTx",
		Params: map[string]string{"submit": hex.EncodeToString(tx)},
	}
}

type jsonWspRequest struct {
	Type        string            `json:"type"`
	Version     string            `json:"version"`
	ServiceName string            `json:"servicename"`
	MethodName  string            `json:"methodname"`
	Args        any               `json:"args,omitempty"`
	Mirror      map[string]string `json:"mirror"`
}

func (OgmiosV5Codec) EncodeRequest(req *Request) ([]byte, error) {
	b, err := json.Marshal(jsonWspRequest{
		Type:        "jsonwsp/request",
		Version:     "1.0",
		ServiceName: "ogmios",
		MethodName:  req.Method,
		Args:        req.Params,
		Mirror:      map[string]string{"id": req.ID},
	})
	return b, errors.WithStack(err)
}

func (OgmiosV5Codec) DecodeResponse(frame []byte) (resp *Response, err error) {
	doc := gjson.ParseBytes(frame)
	if !doc.IsObject() {
		return nil, errors.Wrapf(ErrMalformedFrame, "%s", frame)
	}

	resp = &Response{
		ID:     doc.Get("reflection.id").String(),
		Method: doc.Get("methodname").String(),
	}

	if result := doc.Get("result"); result.Exists() {
		resp.Result = []byte(result.Raw)
	}
	if fault := doc.Get("fault"); fault.Exists() {
		resp.Error = &ResponseError{
			Message: fault.Get("string").String(),
			Data:    json.RawMessage(fault.Raw),
		}
	}

	if resp.Result == nil && resp.Error == nil {
		return nil, errors.Wrapf(ErrMalformedFrame, "neither result nor fault in %s", frame)
	}
	return
}

func (OgmiosV5Codec) DecodeSubmitResult(resp *Response) (result *SubmitResult, err error) {
	if resp.Error != nil {
		return nil, mark(resp.Error, ErrSubmission)
	}

	doc := gjson.ParseBytes(resp.Result)
	if doc.Type == gjson.String && doc.String() == "SubmitSuccess" {
		return &SubmitResult{Status: SubmitAccepted}, nil
	}
	if success := doc.Get("SubmitSuccess"); success.Exists() {
		result = &SubmitResult{Status: SubmitAccepted}
		if id := success.Get("txId"); id.Exists() {
			if result.TxId, err = ParseHash32(id.String()); err != nil {
				return nil, errors.Wrap(ErrMalformedFrame, err.Error())
			}
		}
		return
	}

	fail := doc.Get("SubmitFail")
	if !fail.Exists() {
		return nil, errors.Wrapf(ErrMalformedFrame, "unrecognised submit result %s", resp.Result)
	}

	result = &SubmitResult{Status: SubmitRejected}
	fail.ForEach(func(_, reason gjson.Result) bool {
		r := RejectionReason{Data: json.RawMessage(reason.Raw)}
		switch {
		case reason.Type == gjson.String:
			r.Kind = reason.String()
			r.Message = reason.String()
		case reason.IsObject():
			reason.ForEach(func(key, value gjson.Result) bool {
				r.Kind = key.String()
				r.Message = fmt.Sprintf("%s: %s", key.String(), value.Raw)
				return false
			})
		default:
			r.Message = reason.Raw
		}
		result.Reasons = append(result.Reasons, r)
		return true
	})
	return
}

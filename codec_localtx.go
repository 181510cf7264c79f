package cardano

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Local tx submission messages.
const (
	MsgSubmitTx uint64 = iota
	MsgAcceptTx
	MsgRejectTx
	MsgDone
)

var LocalTxMessageStringMap = map[uint64]string{
	MsgSubmitTx: "MsgSubmitTx",
	MsgAcceptTx: "MsgAcceptTx",
	MsgRejectTx: "MsgRejectTx",
	MsgDone:     "MsgDone",
}

// LocalTxSubmissionCodec encodes the node-to-client local tx submission
// mini protocol. The protocol carries no correlation id, so the codec
// answers each response with the id of the request it last encoded.
type LocalTxSubmissionCodec struct {
	Era    Era
	lastID string
}

func (c *LocalTxSubmissionCodec) NewSubmitRequest(tx []byte) *Request {
	return &Request{
		Method: LocalTxMessageStringMap[MsgSubmitTx],
		Params: tx,
	}
}

func (c *LocalTxSubmissionCodec) EncodeRequest(req *Request) (frame []byte, err error) {
	tx, ok := req.Params.([]byte)
	if req.Method != LocalTxMessageStringMap[MsgSubmitTx] || !ok {
		return nil, errors.Wrapf(ErrUnsupported, "node transport cannot send %s", req.Method)
	}

	// [0, [era, #6.24(bytes .cbor transaction)]]
	frame, err = cborEncoder.Marshal([]any{
		MsgSubmitTx,
		[]any{uint64(c.Era), cbor.Tag{Number: 24, Content: tx}},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	c.lastID = req.ID
	return
}

func (c *LocalTxSubmissionCodec) DecodeResponse(frame []byte) (resp *Response, err error) {
	var fields []cbor.RawMessage
	if err = StandardCborDecoder.Unmarshal(frame, &fields); err != nil || len(fields) == 0 {
		return nil, errors.Wrapf(ErrMalformedFrame, "local tx message %x", frame)
	}

	var kind uint64
	if err = StandardCborDecoder.Unmarshal(fields[0], &kind); err != nil {
		return nil, errors.Wrapf(ErrMalformedFrame, "local tx message %x", frame)
	}

	resp = &Response{ID: c.lastID, Method: LocalTxMessageStringMap[kind]}

	switch kind {
	case MsgAcceptTx:
		resp.Result = frame
	case MsgRejectTx:
		var reason []byte
		if len(fields) > 1 {
			reason = fields[1]
		}
		diagnosis, _ := cbor.Diagnose(reason)
		data, _ := json.Marshal(HexBytes(reason))
		resp.Error = &ResponseError{
			Code:    int(MsgRejectTx),
			Message: diagnosis,
			Data:    data,
		}
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "unexpected local tx message %d", kind)
	}
	return
}

func (c *LocalTxSubmissionCodec) DecodeSubmitResult(resp *Response) (*SubmitResult, error) {
	if resp.Error != nil {
		return &SubmitResult{
			Status: SubmitRejected,
			Reasons: []RejectionReason{{
				Code:    resp.Error.Code,
				Kind:    "ledgerRejection",
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}},
		}, nil
	}
	// the node does not echo the id, the caller knows it
	return &SubmitResult{Status: SubmitAccepted}, nil
}

package cardano

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request is a protocol neutral request. The codec of the session decides
// how it goes on the wire.
type Request struct {
	ID     string
	Method string
	Params any
}

type Response struct {
	ID     string
	Method string
	// Result holds the raw result document, JSON for ogmios and CBOR for the
	// node protocol.
	Result []byte
	Error  *ResponseError
}

type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Codec maps requests and responses to frames. Codecs may keep state between
// a request and its response, so each connection gets its own.
type Codec interface {
	NewSubmitRequest(tx []byte) *Request
	EncodeRequest(req *Request) ([]byte, error)
	DecodeResponse(frame []byte) (*Response, error)
	DecodeSubmitResult(resp *Response) (*SubmitResult, error)
}

// FrameConn carries whole protocol messages. Both calls honour ctx.
type FrameConn interface {
	WriteFrame(ctx context.Context, frame []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

type Transport interface {
	Dial(ctx context.Context) (FrameConn, error)
	Codec() Codec
	String() string
}

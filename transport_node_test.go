package cardano

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodeMessage struct {
	protocol uint16
	payload  []byte
}

func readSegment(conn net.Conn) (msg nodeMessage, err error) {
	header := make([]byte, segmentHeaderLength)
	if _, err = io.ReadFull(conn, header); err != nil {
		return
	}
	_, protocol, _, length := decodeSegmentHeader(header)
	msg.protocol = protocol
	msg.payload = make([]byte, length)
	_, err = io.ReadFull(conn, msg.payload)
	return
}

func writeSegment(conn net.Conn, protocol uint16, payload []byte) error {
	_, err := conn.Write(encodeSegment(0, protocol|segmentResponderBit, payload))
	return err
}

// fakeNode accepts one connection, answers the handshake with handshakeReply
// and every local tx message with txReply.
func fakeNode(t *testing.T, handshakeReply, txReply []byte) (addr string, received chan nodeMessage) {
	addr = filepath.Join(t.TempDir(), "node.socket")
	ln, err := net.Listen("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received = make(chan nodeMessage, 4)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			msg, err := readSegment(conn)
			if err != nil {
				return
			}
			received <- msg

			reply := txReply
			if msg.protocol == ProtocolHandshake {
				reply = handshakeReply
			}
			if err = writeSegment(conn, msg.protocol, reply); err != nil {
				return
			}
		}
	}()

	return
}

func mustCbor(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cborEncoder.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSegmentHeader(t *testing.T) {
	segment := encodeSegment(0x01020304, ProtocolLocalTx|segmentResponderBit, []byte{0xaa, 0xbb})
	assert.Equal(t, []byte{1, 2, 3, 4, 0x80, 0x06, 0, 2, 0xaa, 0xbb}, segment)

	timestamp, protocol, responder, length := decodeSegmentHeader(segment)
	assert.EqualValues(t, 0x01020304, timestamp)
	assert.Equal(t, ProtocolLocalTx, protocol)
	assert.True(t, responder)
	assert.EqualValues(t, 2, length)
	assert.EqualValues(t, 2, binary.BigEndian.Uint16(segment[6:8]))
}

func TestNodeConn_ReassemblesSplitMessages(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	nc := newNodeConn(client, Log())
	message := mustCbor(t, []any{uint64(MsgAcceptTx)})
	long := mustCbor(t, []any{uint64(MsgRejectTx), make([]byte, 100)})

	go func() {
		// one message split over two segments, then two in one segment
		_ = writeSegment(server, ProtocolLocalTx, long[:10])
		_ = writeSegment(server, ProtocolHandshake, []byte{0x80})
		_ = writeSegment(server, ProtocolLocalTx, long[10:])
		_ = writeSegment(server, ProtocolLocalTx, append(append([]byte{}, message...), message...))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := nc.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, long, got)

	for i := 0; i < 2; i++ {
		got, err = nc.ReadFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, message, got)
	}

	got, err = nc.readMessage(ctx, ProtocolHandshake)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80}, got)
}

func TestNodeTransport_Submit(t *testing.T) {
	tx := testSignedTx(t)
	id, err := tx.Id()
	require.NoError(t, err)

	accept := mustCbor(t, []any{1, NtCVersion16, []any{uint64(NetworkMagicPreProd), false}})
	addr, received := fakeNode(t, accept, mustCbor(t, []any{uint64(MsgAcceptTx)}))

	transport := &NodeTransport{Address: addr, Magic: NetworkMagicPreProd}
	assert.Equal(t, "node unix://"+addr, transport.String())

	session, err := OpenSession(context.Background(), &SessionOptions{Type: SessionOneTime, Timeout: 5 * time.Second, Transport: transport})
	require.NoError(t, err)
	result, err := NewSubmissionClient(nil).SubmitTransaction(context.Background(), session, tx)
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.Equal(t, id, result.TxId)
	assert.Equal(t, SessionClosed, session.State())

	handshake := <-received
	assert.Equal(t, ProtocolHandshake, handshake.protocol)
	var propose struct {
		_        struct{} `cbor:",toarray"`
		Kind     uint64
		Versions map[uint64]handshakeVersionData
	}
	require.NoError(t, cbor.Unmarshal(handshake.payload, &propose))
	assert.EqualValues(t, 0, propose.Kind)
	assert.Len(t, propose.Versions, 4)
	assert.Equal(t, NetworkMagicPreProd, propose.Versions[NtCVersion19].Network)

	submit := <-received
	assert.Equal(t, ProtocolLocalTx, submit.protocol)
	var msg struct {
		_    struct{} `cbor:",toarray"`
		Kind uint64
		Tx   struct {
			_    struct{} `cbor:",toarray"`
			Era  uint64
			Body cbor.Tag
		}
	}
	require.NoError(t, cbor.Unmarshal(submit.payload, &msg))
	assert.Equal(t, MsgSubmitTx, msg.Kind)
	assert.EqualValues(t, EraConway, msg.Tx.Era)
	assert.EqualValues(t, 24, msg.Tx.Body.Number)

	encoded, err := tx.Bytes()
	require.NoError(t, err)
	assert.Equal(t, encoded, msg.Tx.Body.Content)
}

func TestNodeTransport_Rejected(t *testing.T) {
	accept := mustCbor(t, []any{1, NtCVersion16, []any{uint64(NetworkMagicPreProd), false}})
	reject := mustCbor(t, []any{uint64(MsgRejectTx), []any{uint64(1), "BadInputsUTxO"}})
	addr, _ := fakeNode(t, accept, reject)

	transport := &NodeTransport{Address: addr, Magic: NetworkMagicPreProd}
	result, err := SubmitTx(context.Background(), &SessionOptions{Timeout: 5 * time.Second, Transport: transport}, testSignedTx(t))
	require.NoError(t, err)
	assert.Equal(t, SubmitRejected, result.Status)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, "ledgerRejection", result.Reasons[0].Kind)
	assert.Contains(t, result.Reasons[0].Message, "BadInputsUTxO")
}

func TestNodeTransport_HandshakeRefused(t *testing.T) {
	refuse := mustCbor(t, []any{2, []any{0, []any{NtCVersion16}}})
	addr, _ := fakeNode(t, refuse, nil)

	session := NewSession(&SessionOptions{
		Timeout:   5 * time.Second,
		Transport: &NodeTransport{Address: addr, Magic: NetworkMagicMainNet},
	})
	err := session.Open(context.Background())
	assert.True(t, errors.Is(err, ErrConnection), "got %v", err)
	assert.True(t, errors.Is(err, ErrHandshakeRefuse))
	assert.Equal(t, SessionClosed, session.State())
}

func TestLocalTxSubmissionCodec(t *testing.T) {
	codec := &LocalTxSubmissionCodec{Era: EraBabbage}

	_, err := codec.EncodeRequest(&Request{Method: MethodQueryTip})
	assert.True(t, errors.Is(err, ErrUnsupported))

	req := codec.NewSubmitRequest([]byte{0x84})
	req.ID = "abc"
	frame, err := codec.EncodeRequest(req)
	require.NoError(t, err)
	assert.Equal(t, HexString("82008205d8184184").Bytes(), frame)

	resp, err := codec.DecodeResponse(mustCbor(t, []any{uint64(MsgAcceptTx)}))
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.ID, "responses carry the last request id")
	assert.Equal(t, "MsgAcceptTx", resp.Method)

	_, err = codec.DecodeResponse(mustCbor(t, []any{uint64(MsgDone)}))
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	_, err = codec.DecodeResponse([]byte{0xff})
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}

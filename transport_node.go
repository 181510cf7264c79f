package cardano

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Mini protocol numbers multiplexed over a node-to-client connection.
const (
	ProtocolHandshake uint16 = 0
	ProtocolLocalTx   uint16 = 6
)

// Node-to-client handshake versions 16 to 19 (bit 15 marks node-to-client).
const (
	NtCVersion16 = iota + 32784
	NtCVersion17
	NtCVersion18
	NtCVersion19
)

const (
	segmentHeaderLength = 8
	segmentMaxPayload   = 0xffff
	segmentResponderBit = 0x8000
)

// NodeTransport speaks the node-to-client mini protocols directly to a
// cardano-node socket, usually a unix socket next to the node.
type NodeTransport struct {
	Network string
	Address string
	Magic   NetworkMagic
	// Era tags submitted transactions. Byron cannot carry the transactions
	// built here, so the zero value means conway.
	Era    Era
	Logger *zerolog.Logger
}

func (t *NodeTransport) String() string {
	return fmt.Sprintf("node %s://%s", t.network(), t.Address)
}

func (t *NodeTransport) network() string {
	if t.Network == "" {
		return "unix"
	}
	return t.Network
}

func (t *NodeTransport) Codec() Codec {
	era := t.Era
	if era == 0 {
		era = EraConway
	}
	return &LocalTxSubmissionCodec{Era: era}
}

func (t *NodeTransport) Dial(ctx context.Context) (conn FrameConn, err error) {
	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, t.network(), t.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial node at %s", t.Address)
	}

	log := t.Logger
	if log == nil {
		log = Log()
	}

	nc := newNodeConn(raw, log)
	if err = nc.handshake(ctx, t.Magic); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return nc, nil
}

// nodeConn frames messages into multiplexer segments:
// 4 byte timestamp, 2 byte mode bit + protocol, 2 byte payload length.
type nodeConn struct {
	conn    net.Conn
	start   time.Time
	writeMu *sync.Mutex
	pending map[uint16][]byte
	log     *zerolog.Logger
}

func newNodeConn(conn net.Conn, log *zerolog.Logger) *nodeConn {
	return &nodeConn{
		conn:    conn,
		start:   time.Now(),
		writeMu: &sync.Mutex{},
		pending: map[uint16][]byte{},
		log:     log,
	}
}

func (c *nodeConn) timestamp() uint32 {
	return uint32(time.Since(c.start).Microseconds() & 0xffffffff)
}

func encodeSegment(timestamp uint32, protocol uint16, payload []byte) []byte {
	out := make([]byte, segmentHeaderLength, segmentHeaderLength+len(payload))
	binary.BigEndian.PutUint32(out[0:4], timestamp)
	binary.BigEndian.PutUint16(out[4:6], protocol)
	binary.BigEndian.PutUint16(out[6:8], uint16(len(payload)))
	return append(out, payload...)
}

func decodeSegmentHeader(header []byte) (timestamp uint32, protocol uint16, responder bool, length uint16) {
	timestamp = binary.BigEndian.Uint32(header[0:4])
	raw := binary.BigEndian.Uint16(header[4:6])
	protocol = raw &^ segmentResponderBit
	responder = raw&segmentResponderBit != 0
	length = binary.BigEndian.Uint16(header[6:8])
	return
}

func (c *nodeConn) writeMessage(ctx context.Context, protocol uint16, payload []byte) (err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := interrupt(ctx, c.conn.SetWriteDeadline)
	defer stop()

	for len(payload) > 0 {
		n := len(payload)
		if n > segmentMaxPayload {
			n = segmentMaxPayload
		}
		segment := encodeSegment(c.timestamp(), protocol, payload[:n])
		c.log.Trace().Msgf("segment out: protocol %d, %d bytes", protocol, n)
		if _, err = c.conn.Write(segment); err != nil {
			return errors.WithStack(err)
		}
		payload = payload[n:]
	}
	return
}

// nextPending cuts one complete cbor item off the buffered bytes of
// protocol, if there is one.
func (c *nodeConn) nextPending(protocol uint16) (message []byte, ok bool, err error) {
	buf := c.pending[protocol]
	if len(buf) == 0 {
		return
	}

	var item cbor.RawMessage
	rest, err := StandardCborDecoder.UnmarshalFirst(buf, &item)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	message = buf[:len(buf)-len(rest)]
	c.pending[protocol] = rest
	return message, true, nil
}

func (c *nodeConn) readMessage(ctx context.Context, protocol uint16) (message []byte, err error) {
	stop := interrupt(ctx, c.conn.SetReadDeadline)
	defer stop()

	header := make([]byte, segmentHeaderLength)
	for {
		message, ok, err := c.nextPending(protocol)
		if err != nil || ok {
			return message, err
		}

		if _, err = io.ReadFull(c.conn, header); err != nil {
			return nil, errors.WithStack(err)
		}
		_, segmentProtocol, _, length := decodeSegmentHeader(header)

		payload := make([]byte, length)
		if _, err = io.ReadFull(c.conn, payload); err != nil {
			return nil, errors.WithStack(err)
		}

		c.log.Trace().Msgf("segment in: protocol %d, %d bytes", segmentProtocol, length)
		c.pending[segmentProtocol] = append(c.pending[segmentProtocol], payload...)
	}
}

func (c *nodeConn) WriteFrame(ctx context.Context, frame []byte) error {
	return c.writeMessage(ctx, ProtocolLocalTx, frame)
}

func (c *nodeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	return c.readMessage(ctx, ProtocolLocalTx)
}

func (c *nodeConn) Close() error {
	return errors.WithStack(c.conn.Close())
}

type handshakeVersionData struct {
	_       struct{} `cbor:",toarray"`
	Network NetworkMagic
	Query   bool
}

func proposeVersions(magic NetworkMagic) ([]byte, error) {
	versions := map[uint64]handshakeVersionData{}
	for v := NtCVersion16; v <= NtCVersion19; v++ {
		versions[uint64(v)] = handshakeVersionData{Network: magic}
	}
	b, err := cborEncoder.Marshal([]any{0, versions})
	return b, errors.WithStack(err)
}

func (c *nodeConn) handshake(ctx context.Context, magic NetworkMagic) (err error) {
	c.log.Debug().Msgf("begin handshake, network magic %d", magic)

	propose, err := proposeVersions(magic)
	if err != nil {
		return
	}
	if err = c.writeMessage(ctx, ProtocolHandshake, propose); err != nil {
		return
	}

	reply, err := c.readMessage(ctx, ProtocolHandshake)
	if err != nil {
		return
	}

	var fields []cbor.RawMessage
	if err = StandardCborDecoder.Unmarshal(reply, &fields); err != nil || len(fields) == 0 {
		return errors.Wrapf(ErrMalformedFrame, "handshake reply %x", reply)
	}

	var kind uint64
	if err = StandardCborDecoder.Unmarshal(fields[0], &kind); err != nil {
		return errors.Wrapf(ErrMalformedFrame, "handshake reply %x", reply)
	}

	switch kind {
	case 1:
		var version uint64
		if len(fields) > 1 {
			_ = StandardCborDecoder.Unmarshal(fields[1], &version)
		}
		c.log.Info().Msgf("handshake ok, node accepted version %d", version)
		return nil
	case 2:
		reason, _ := cbor.Diagnose(reply)
		return errors.Wrap(ErrHandshakeRefuse, reason)
	}

	return errors.Wrapf(ErrMalformedFrame, "unexpected handshake message %d", kind)
}

package cardano

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type SessionType int

const (
	// SessionOneTime closes itself after the first response.
	SessionOneTime SessionType = iota
	// SessionPersistent stays open until Close.
	SessionPersistent
)

func (t SessionType) String() string {
	if t == SessionPersistent {
		return "persistent"
	}
	return "one-time"
}

type SessionState int32

const (
	SessionClosed SessionState = iota
	SessionOpening
	SessionOpen
	SessionClosing
)

var SessionStateStringMap = map[SessionState]string{
	SessionClosed:  "closed",
	SessionOpening: "opening",
	SessionOpen:    "open",
	SessionClosing: "closing",
}

func (s SessionState) String() string {
	return SessionStateStringMap[s]
}

type SessionOptions struct {
	Type      SessionType
	Timeout   time.Duration
	Transport Transport
	Logger    *zerolog.Logger
	// LogLevel narrows Logger for this session ("debug", "INFO", ...). The
	// global zerolog level still applies.
	LogLevel string
}

func (o *SessionOptions) setDefaults() {
	if o.Timeout == 0 {
		o.Timeout = defaultSessionOptions.Timeout
	}

	if o.Transport == nil {
		o.Transport = defaultSessionOptions.Transport
	}

	if o.Logger == nil {
		o.Logger = Log()
	}

	if o.LogLevel != "" {
		level, err := zerolog.ParseLevel(strings.ToLower(o.LogLevel))
		if err != nil {
			o.Logger.Warn().Msgf("ignoring session log level %q", o.LogLevel)
			return
		}
		logger := o.Logger.Level(level)
		o.Logger = &logger
	}
}

var defaultSessionOptions = &SessionOptions{
	Type:    SessionOneTime,
	Timeout: time.Second * 30,
	Transport: &OgmiosTransport{
		Endpoint: "ws://localhost:1337",
		Version:  OgmiosV6,
	},
}

// Session is a connection to a node speaking one request/response protocol.
// A session carries at most one request at a time; a second concurrent
// request fails with ErrSessionBusy rather than queueing.
type Session struct {
	options *SessionOptions
	state   atomic.Int32
	busy    atomic.Bool
	mu      *sync.Mutex
	conn    FrameConn
	codec   Codec
	dial    *pendingDial
	log     *zerolog.Logger
}

// pendingDial lets Close abort an Open still waiting on the transport.
type pendingDial struct {
	cancel context.CancelFunc
}

func NewSession(options *SessionOptions) *Session {
	if options == nil {
		options = &SessionOptions{}
	}
	opts := *options
	opts.setDefaults()

	return &Session{
		options: &opts,
		mu:      &sync.Mutex{},
		log:     opts.Logger,
	}
}

// OpenSession creates a session and connects it.
func OpenSession(ctx context.Context, options *SessionOptions) (session *Session, err error) {
	session = NewSession(options)
	if err = session.Open(ctx); err != nil {
		session = nil
	}
	return
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) Type() SessionType {
	return s.options.Type
}

func (s *Session) Transport() Transport {
	return s.options.Transport
}

// Codec is the wire codec of the open connection, nil while closed.
func (s *Session) Codec() Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// Open dials the transport. The dial is bounded by the session timeout as
// well as ctx. On failure the session stays closed.
func (s *Session) Open(ctx context.Context) (err error) {
	if !s.state.CompareAndSwap(int32(SessionClosed), int32(SessionOpening)) {
		if s.State() == SessionOpen {
			return nil
		}
		return errors.Errorf("cannot open a session that is %s", s.State())
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.Timeout)
	defer cancel()

	dial := &pendingDial{cancel: cancel}
	s.mu.Lock()
	s.dial = dial
	s.mu.Unlock()

	s.log.Debug().Msgf("opening %s session to %s", s.options.Type, s.options.Transport)

	conn, err := s.options.Transport.Dial(ctx)

	s.mu.Lock()
	if s.dial != dial {
		// closed while dialing
		s.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return mark(errors.New("session closed while opening"), ErrConnection)
	}
	s.dial = nil

	if err != nil {
		s.state.Store(int32(SessionClosed))
		s.mu.Unlock()
		return mark(err, ErrConnection)
	}

	if !s.state.CompareAndSwap(int32(SessionOpening), int32(SessionOpen)) {
		s.mu.Unlock()
		_ = conn.Close()
		return mark(errors.New("session closed while opening"), ErrConnection)
	}
	s.conn = conn
	s.codec = s.options.Transport.Codec()
	s.mu.Unlock()

	s.log.Info().Msgf("session open to %s", s.options.Transport)
	return
}

// Close releases the connection. Closing a closed session is a no-op.
func (s *Session) Close() (err error) {
	for {
		state := s.State()
		if state == SessionClosed || state == SessionClosing {
			return nil
		}
		if s.state.CompareAndSwap(int32(state), int32(SessionClosing)) {
			break
		}
	}

	s.mu.Lock()
	conn, dial := s.conn, s.dial
	s.conn = nil
	s.codec = nil
	s.dial = nil
	s.mu.Unlock()

	if dial != nil {
		dial.cancel()
	}
	if conn != nil {
		if err2 := conn.Close(); err2 != nil {
			s.log.Debug().Msgf("error closing connection: %v", err2)
		}
	}

	s.state.Store(int32(SessionClosed))
	s.log.Debug().Msgf("session to %s closed", s.options.Transport)
	return
}

// Request sends req and blocks until the response carrying the same correlation
// id arrives, ctx is done or the session timeout passes. A timeout closes the
// session. One-time sessions close after the response.
func (s *Session) Request(ctx context.Context, req *Request) (resp *Response, err error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, errors.WithStack(ErrSessionBusy)
	}
	defer s.busy.Store(false)

	if s.State() != SessionOpen {
		return nil, errors.Wrapf(ErrSessionNotOpen, "session is %s", s.State())
	}

	s.mu.Lock()
	conn, codec := s.conn, s.codec
	s.mu.Unlock()
	if conn == nil {
		return nil, errors.WithStack(ErrSessionNotOpen)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.Timeout)
	defer cancel()

	frame, err := codec.EncodeRequest(req)
	if err != nil {
		return
	}

	s.log.Debug().Msgf("request %s %s", req.Method, req.ID)
	if err = conn.WriteFrame(ctx, frame); err != nil {
		return nil, s.fail(ctx, req, err)
	}

	for {
		data, err2 := conn.ReadFrame(ctx)
		if err2 != nil {
			return nil, s.fail(ctx, req, err2)
		}

		resp, err = codec.DecodeResponse(data)
		if err != nil {
			_ = s.Close()
			return nil, err
		}

		if resp.ID != "" && resp.ID != req.ID {
			s.log.Warn().Msgf("skipping response %s while waiting for %s", resp.ID, req.ID)
			continue
		}
		break
	}

	s.log.Debug().Msgf("response %s %s", resp.Method, resp.ID)

	if s.options.Type == SessionOneTime {
		err = s.Close()
	}
	return
}

// fail closes the session and classifies a read or write failure.
func (s *Session) fail(ctx context.Context, req *Request, cause error) error {
	_ = s.Close()

	// a cancelled ctx also surfaces as a socket timeout, so check it first
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrapf(context.Canceled, "request %s %s", req.Method, req.ID)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(cause) {
		return mark(
			errors.Wrapf(context.DeadlineExceeded, "no response to %s %s", req.Method, req.ID),
			ErrRequestTimeout)
	}
	return mark(cause, ErrConnection)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package cardano

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blinklabs-io/gouroboros/ledger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Submittable is what the submission client accepts: RawTransaction or
// *Transaction. The set is closed.
type Submittable interface {
	submittable() (encoded []byte, id TxId, err error)
}

// RawTransaction is a serialised signed transaction.
type RawTransaction []byte

// ParseRawTransaction reads a hex encoded transaction.
func ParseRawTransaction(s string) (RawTransaction, error) {
	tx, err := DecodeTransactionHex(s)
	if err != nil {
		return nil, err
	}
	b, err := tx.Bytes()
	return RawTransaction(b), err
}

func (r RawTransaction) submittable() (encoded []byte, id TxId, err error) {
	if len(r) == 0 {
		err = errors.Wrap(ErrInvalidTransactionInput, "empty transaction")
		return
	}

	txType, err := ledger.DetermineTransactionType(r)
	if err != nil {
		err = errors.Wrapf(ErrInvalidTransactionInput, "not a ledger transaction: %v", err)
		return
	}
	parsed, err := ledger.NewTransactionFromCbor(txType, r)
	if err != nil {
		err = errors.Wrapf(ErrInvalidTransactionInput, "not a ledger transaction: %v", err)
		return
	}

	tx, err := DecodeTransaction(r)
	if err != nil {
		err = errors.Wrapf(ErrInvalidTransactionInput, "%v", err)
		return
	}
	if id, err = tx.Id(); err != nil {
		return
	}
	Log().Debug().Msgf("raw transaction %s decodes as ledger type %d (%s)", id, txType, fmt.Sprint(parsed.Hash()))

	return r, id, nil
}

func (t *Transaction) submittable() (encoded []byte, id TxId, err error) {
	if t == nil {
		err = errors.Wrap(ErrInvalidTransactionInput, "nil transaction")
		return
	}
	if len(t.Body.Inputs) == 0 {
		err = errors.Wrap(ErrInvalidTransactionInput, "transaction has no inputs")
		return
	}
	if encoded, err = t.Bytes(); err != nil {
		return
	}
	id, err = t.Id()
	return
}

type SubmitStatus int

const (
	SubmitAccepted SubmitStatus = iota + 1
	SubmitRejected
)

var SubmitStatusStringMap = map[SubmitStatus]string{
	SubmitAccepted: "accepted",
	SubmitRejected: "rejected",
}

func (s SubmitStatus) String() string {
	return SubmitStatusStringMap[s]
}

func (s SubmitStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SubmitStatus) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err = json.Unmarshal(data, &str); err != nil {
		return errors.WithStack(err)
	}
	for status, name := range SubmitStatusStringMap {
		if name == str {
			*s = status
			return
		}
	}
	return errors.Errorf("unknown submit status '%s'", str)
}

// RejectionReason is one reason the ledger gave for refusing a transaction.
type RejectionReason struct {
	Code    int             `json:"code"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SubmitResult is the outcome of a submission that reached the node. A
// rejection is a result, not an error.
type SubmitResult struct {
	Status  SubmitStatus      `json:"status"`
	TxId    TxId              `json:"txId"`
	Reasons []RejectionReason `json:"reasons,omitempty"`
}

func (r *SubmitResult) Accepted() bool {
	return r.Status == SubmitAccepted
}

type SubmissionEvent struct {
	Result   *SubmitResult
	Endpoint string
	At       time.Time
}

type SubmissionClientOptions struct {
	Journal Journal
	Events  *EventQueue[SubmissionEvent]
	Metrics *Metrics
	Logger  *zerolog.Logger
}

type SubmissionClient struct {
	journal Journal
	events  *EventQueue[SubmissionEvent]
	metrics *Metrics
	log     *zerolog.Logger
}

func NewSubmissionClient(options *SubmissionClientOptions) *SubmissionClient {
	if options == nil {
		options = &SubmissionClientOptions{}
	}
	log := options.Logger
	if log == nil {
		log = Log()
	}
	return &SubmissionClient{
		journal: options.Journal,
		events:  options.Events,
		metrics: options.Metrics,
		log:     log,
	}
}

// SubmitTransaction sends input over an open session and reports whether the
// node accepted it. Input problems fail before anything is sent. A session
// that is not open is never reopened here. Transport failures match
// ErrSubmission as well as the transport error.
func (c *SubmissionClient) SubmitTransaction(ctx context.Context, session *Session, input Submittable) (*SubmitResult, error) {
	return c.submit(ctx, session, input, false)
}

// submit validates input, then opens a closed session when reopen is set.
func (c *SubmissionClient) submit(ctx context.Context, session *Session, input Submittable, reopen bool) (result *SubmitResult, err error) {
	if input == nil {
		return nil, errors.Wrap(ErrInvalidTransactionInput, "nothing to submit")
	}

	encoded, id, err := input.submittable()
	if err != nil {
		return
	}

	if session == nil {
		return nil, errors.Wrap(ErrSessionNotOpen, "no session")
	}
	if reopen && session.State() == SessionClosed {
		if err = session.Open(ctx); err != nil {
			return nil, c.failed(mark(err, ErrSubmission))
		}
	}
	if state := session.State(); state != SessionOpen {
		return nil, c.failed(mark(errors.Wrapf(ErrSessionNotOpen, "session is %s", state), ErrSubmission))
	}

	codec := session.Codec()
	if codec == nil {
		return nil, c.failed(mark(errors.WithStack(ErrSessionNotOpen), ErrSubmission))
	}

	c.log.Info().Msgf("submitting transaction %s (%d bytes) to %s", id, len(encoded), session.Transport())

	resp, err := session.Request(ctx, codec.NewSubmitRequest(encoded))
	if err != nil {
		return nil, c.failed(mark(err, ErrSubmission))
	}

	result, err = codec.DecodeSubmitResult(resp)
	if err != nil {
		return nil, c.failed(mark(err, ErrSubmission))
	}

	if result.TxId == (TxId{}) {
		result.TxId = id
	} else if result.TxId != id {
		c.log.Warn().Msgf("node reported id %s for transaction %s", result.TxId, id)
	}

	if result.Accepted() {
		c.log.Info().Msgf("transaction %s accepted", result.TxId)
	} else {
		for _, reason := range result.Reasons {
			c.log.Warn().Msgf("transaction %s rejected: %s (%d) %s", result.TxId, reason.Kind, reason.Code, reason.Message)
		}
	}

	c.record(ctx, result, session.Transport().String())
	return
}

func (c *SubmissionClient) failed(err error) error {
	c.log.Debug().Msgf("submission failed: %v\n%s", err, StackTracerMessage(err))
	if c.metrics != nil {
		c.metrics.SubmissionErrors.Inc()
	}
	return err
}

func (c *SubmissionClient) record(ctx context.Context, result *SubmitResult, endpoint string) {
	now := time.Now().UTC()

	if c.metrics != nil {
		c.metrics.Submissions.WithLabelValues(result.Status.String()).Inc()
	}

	if c.journal != nil {
		err := c.journal.Record(ctx, &SubmissionRecord{
			TxId:        result.TxId,
			Status:      result.Status,
			Reasons:     result.Reasons,
			Endpoint:    endpoint,
			SubmittedAt: now,
		})
		if err != nil {
			c.log.Error().Msgf("failed to journal submission %s: %+v", result.TxId, err)
		}
	}

	if c.events != nil {
		c.events.Broadcast(SubmissionEvent{Result: result, Endpoint: endpoint, At: now})
	}
}

// SubmitTx opens a one-time session, submits input and closes the session.
func SubmitTx(ctx context.Context, options *SessionOptions, input Submittable) (result *SubmitResult, err error) {
	opts := SessionOptions{}
	if options != nil {
		opts = *options
	}
	opts.Type = SessionOneTime
	if opts.Logger == nil && opts.LogLevel == "" {
		opts.LogLevel = zerolog.InfoLevel.String()
	}

	client := NewSubmissionClient(&SubmissionClientOptions{Logger: opts.Logger})

	session := NewSession(&opts)
	defer session.Close()

	return client.submit(ctx, session, input, true)
}

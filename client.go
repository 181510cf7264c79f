package cardano

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ClientOptions struct {
	Config *Config
	// Chain overrides the chain source named in Config.
	Chain   ChainContext
	Journal Journal
	Metrics *Metrics
	Logger  *zerolog.Logger
}

func (o *ClientOptions) setDefaults() {
	if o.Config == nil {
		o.Config = &Config{}
	}
	o.Config.setDefaults()

	if o.Journal == nil {
		o.Journal = NewInMemoryJournal()
	}

	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}

	if o.Logger == nil {
		o.Logger = Log()
	}
}

// Client ties a chain source and a persistent submission session together
// for long running processes such as the rpc server.
type Client struct {
	options   *ClientOptions
	config    *Config
	params    *NetworkParams
	chain     ChainContext
	session   *Session
	submitter *SubmissionClient
	events    *EventQueue[SubmissionEvent]
	metrics   *Metrics
	journal   Journal
	log       *zerolog.Logger
	stopOnce  sync.Once
}

func NewClient(options *ClientOptions) (client *Client, err error) {
	if options == nil {
		options = &ClientOptions{}
	}
	options.setDefaults()

	config := options.Config
	if err = config.Validate(); err != nil {
		return
	}

	params, err := config.Network.Params()
	if err != nil {
		return
	}

	chain := options.Chain
	if chain == nil {
		if chain, err = NewChainContext(config, options.Logger); err != nil {
			return
		}
	}

	transport, err := NewSubmitTransport(config, options.Logger)
	if err != nil {
		return
	}

	events := NewEventQueue[SubmissionEvent]()

	client = &Client{
		options: options,
		config:  config,
		params:  params,
		chain:   chain,
		session: NewSession(&SessionOptions{
			Type:      SessionPersistent,
			Timeout:   config.Timeout,
			Transport: transport,
			Logger:    options.Logger,
			LogLevel:  config.LogLevel,
		}),
		submitter: NewSubmissionClient(&SubmissionClientOptions{
			Journal: options.Journal,
			Events:  events,
			Metrics: options.Metrics,
			Logger:  options.Logger,
		}),
		events:  events,
		metrics: options.Metrics,
		journal: options.Journal,
		log:     options.Logger,
	}

	return
}

// NewChainContext builds the chain source named by config.
func NewChainContext(config *Config, logger *zerolog.Logger) (chain ChainContext, err error) {
	switch config.ChainSource {
	case ChainSourceOgmios:
		ogmios, err := NewOgmiosChain(&OgmiosChainOptions{
			Endpoint: config.OgmiosEndpoint,
			Timeout:  config.Timeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return ogmios, nil
	case ChainSourceBlockfrost:
		blockfrost, err := NewBlockfrostChain(&BlockfrostChainOptions{
			Endpoint:  config.BlockfrostUrl,
			ProjectId: config.BlockfrostProjectId,
			Timeout:   config.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return blockfrost, nil
	}
	err = errors.Wrapf(ErrInvalidConfig, "unknown chain source '%s'", config.ChainSource)
	return
}

// NewSubmitTransport builds the submission transport named by config.
func NewSubmitTransport(config *Config, logger *zerolog.Logger) (transport Transport, err error) {
	switch config.SubmitVia {
	case SubmitViaOgmios:
		version, err := config.ogmiosVersion()
		if err != nil {
			return nil, err
		}
		return &OgmiosTransport{
			Endpoint: config.OgmiosEndpoint,
			Version:  version,
		}, nil
	case SubmitViaNode:
		params, err := config.Network.Params()
		if err != nil {
			return nil, err
		}
		era, err := config.nodeEra()
		if err != nil {
			return nil, err
		}
		return &NodeTransport{
			Network: config.NodeSocketNetwork,
			Address: config.NodeSocket,
			Magic:   params.Magic,
			Era:     era,
			Logger:  logger,
		}, nil
	}
	err = errors.Wrapf(ErrInvalidConfig, "unknown submitter '%s'", config.SubmitVia)
	return
}

// Start connects the submission session. Submissions reopen it after a
// failure, so a node that is down at start up only delays the first one.
func (c *Client) Start(ctx context.Context) (err error) {
	c.log.Info().Msgf("starting client on %s, submitting via %s", c.config.Network, c.session.Transport())

	if err = c.session.Open(ctx); err != nil {
		c.log.Warn().Msgf("submission session not open yet: %v", err)
	}
	return nil
}

func (c *Client) Stop() (err error) {
	c.stopOnce.Do(func() {
		c.log.Info().Msg("stopping client")

		err = c.session.Close()

		if closer, ok := c.chain.(interface{ Close() error }); ok {
			if err2 := closer.Close(); err2 != nil && err == nil {
				err = err2
			}
		}

		c.events.Close()

		if err2 := c.journal.Close(); err2 != nil && err == nil {
			err = err2
		}
	})
	return
}

func (c *Client) Config() *Config {
	return c.config
}

func (c *Client) NetworkParams() *NetworkParams {
	return c.params
}

func (c *Client) Chain() ChainContext {
	return c.chain
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Events() *EventQueue[SubmissionEvent] {
	return c.events
}

func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// NewTxBuilder returns a builder for the client's network drawing utxos and
// parameters from the client's chain.
func (c *Client) NewTxBuilder(ctx context.Context, opts ...BuilderOption) (builder *TxBuilder, err error) {
	params, err := c.chain.ProtocolParameters(ctx)
	if err != nil {
		return
	}
	opts = append([]BuilderOption{WithChain(c.chain), WithBuilderLogger(c.log)}, opts...)
	return NewTxBuilder(params, c.config.Network, opts...), nil
}

// Build runs the builder and counts the result.
func (c *Client) Build(ctx context.Context, builder *TxBuilder, keys []*SigningKey, changeAddress Address) (tx *Transaction, err error) {
	if tx, err = builder.BuildAndSign(ctx, keys, changeAddress); err != nil {
		return
	}
	c.metrics.TransactionsBuilt.Inc()
	return
}

// Submit sends input over the client's persistent session, reconnecting it
// first when it has closed.
func (c *Client) Submit(ctx context.Context, input Submittable) (*SubmitResult, error) {
	return c.submitter.submit(ctx, c.session, input, true)
}

type SendRequest struct {
	Keys          []*SigningKey
	From          Address
	To            Address
	Amount        Value
	ChangeAddress Address
	// ValidFor is the number of slots the transaction stays valid, none when
	// zero.
	ValidFor uint64
}

// Send pays Amount from From to To and submits the result.
func (c *Client) Send(ctx context.Context, req *SendRequest) (tx *Transaction, result *SubmitResult, err error) {
	builder, err := c.NewTxBuilder(ctx)
	if err != nil {
		return
	}

	if err = builder.AddInputAddress(req.From); err != nil {
		return
	}

	output, err := NewOutput(req.To, req.Amount)
	if err != nil {
		return
	}
	if err = builder.AddOutput(output); err != nil {
		return
	}

	if req.ValidFor > 0 {
		if err = builder.ValidFor(ctx, req.ValidFor); err != nil {
			return
		}
	}

	change := req.ChangeAddress
	if len(change) == 0 {
		change = req.From
	}

	if tx, err = c.Build(ctx, builder, req.Keys, change); err != nil {
		return
	}

	result, err = c.Submit(ctx, tx)
	return
}

func (c *Client) Submission(ctx context.Context, id TxId) (*SubmissionRecord, error) {
	return c.journal.Get(ctx, id)
}

func (c *Client) RecentSubmissions(ctx context.Context, limit int) ([]*SubmissionRecord, error) {
	return c.journal.Recent(ctx, limit)
}

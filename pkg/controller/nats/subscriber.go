package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/usecase"
	"github.com/secmon-lab/ingestd/pkg/utils/errutil"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
)

// KnowledgeUseCase runs knowledge ingestion for a trigger
type KnowledgeUseCase interface {
	Ingest(ctx context.Context, businessID string, docID model.KnowledgeDocID) error
}

// CatalogUseCase runs a catalog job for a trigger
type CatalogUseCase interface {
	Run(ctx context.Context, marketID string, jobID model.JobID) error
}

// Subscriber pulls trigger payloads from a durable JetStream consumer shared
// by every ingestd instance, so each trigger is handled by one of them
type Subscriber struct {
	js        jetstream.JetStream
	knowledge KnowledgeUseCase
	catalog   CatalogUseCase
	cfg       Config

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSubscriber(js jetstream.JetStream, knowledge KnowledgeUseCase, catalog CatalogUseCase, cfg Config) *Subscriber {
	return &Subscriber{
		js:        js,
		knowledge: knowledge,
		catalog:   catalog,
		cfg:       cfg.withDefaults(),
	}
}

// Start ensures the stream and consumer exist and begins consuming in the background
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return goerr.New("subscriber already started")
	}

	if _, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: []string{s.cfg.KnowledgeSubject, s.cfg.CatalogSubject},
	}); err != nil {
		return goerr.Wrap(err, "failed to create stream", goerr.V("stream", s.cfg.Stream))
	}

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:        s.cfg.Consumer,
		FilterSubjects: []string{s.cfg.KnowledgeSubject, s.cfg.CatalogSubject},
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        s.cfg.AckWait,
		MaxDeliver:     s.cfg.MaxDeliver,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to create consumer",
			goerr.V("stream", s.cfg.Stream), goerr.V("consumer", s.cfg.Consumer))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consume(runCtx, consumer)
	}()

	logging.From(ctx).Info("Trigger subscriber started",
		"stream", s.cfg.Stream, "consumer", s.cfg.Consumer,
		"knowledge_subject", s.cfg.KnowledgeSubject, "catalog_subject", s.cfg.CatalogSubject)
	return nil
}

// Stop cancels consumption and waits for the in-flight message to finish
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Subscriber) consume(ctx context.Context, consumer jetstream.Consumer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(s.cfg.FetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		for msg := range msgs.Messages() {
			if ctx.Err() != nil {
				if err := msg.Nak(); err != nil {
					logging.Default().Warn("Failed to nak message during shutdown", "error", err)
				}
				continue
			}
			s.handleMessage(ctx, msg)
		}

		if err := msgs.Error(); err != nil && ctx.Err() == nil && !errors.Is(err, jetstream.ErrNoMessages) {
			logging.Default().Debug("Fetch error", "error", err)
		}
	}
}

// disposition of a handled message
type disposition int

const (
	dispAck disposition = iota
	dispNak
	dispTerm
)

func (s *Subscriber) handleMessage(ctx context.Context, msg jetstream.Msg) {
	logger := logging.Default().With("subject", msg.Subject())
	if meta, err := msg.Metadata(); err == nil {
		logger = logger.With("delivered", meta.NumDelivered, "stream_seq", meta.Sequence.Stream)
	}
	ctx = logging.With(ctx, logger)

	var err error
	switch msg.Subject() {
	case s.cfg.KnowledgeSubject:
		var t model.KnowledgeTrigger
		if err = decode(msg.Data(), &t); err == nil {
			err = s.knowledge.Ingest(ctx, t.BusinessID, t.DocID)
		}
	case s.cfg.CatalogSubject:
		var t model.CatalogTrigger
		if err = decode(msg.Data(), &t); err == nil {
			err = s.catalog.Run(ctx, t.MarketID, t.JobID)
		}
	default:
		err = goerr.Wrap(model.ErrInvalidTrigger, "unexpected subject", goerr.V("subject", msg.Subject()))
	}

	switch dispositionOf(err) {
	case dispAck:
		if ackErr := msg.Ack(); ackErr != nil {
			errutil.Handle(ctx, ackErr, "failed to ack trigger")
		}
	case dispTerm:
		logger.Warn("Dropping trigger", "error", err.Error())
		if termErr := msg.Term(); termErr != nil {
			errutil.Handle(ctx, termErr, "failed to terminate trigger")
		}
	case dispNak:
		errutil.Handle(ctx, err, "trigger failed, requesting redelivery")
		if nakErr := msg.NakWithDelay(s.cfg.RetryDelay); nakErr != nil {
			errutil.Handle(ctx, nakErr, "failed to nak trigger")
		}
	}
}

func decode(data []byte, t interface{ Validate() error }) error {
	if err := json.Unmarshal(data, t); err != nil {
		return goerr.Wrap(model.ErrInvalidTrigger, "malformed trigger payload", goerr.V("cause", err.Error()))
	}
	return t.Validate()
}

// dispositionOf decides what happens to a trigger after its run. Classified
// failures are already recorded on the doc or job, so a redelivery would be a
// no-op and the message is acked. Unclassified errors are redelivered.
func dispositionOf(err error) disposition {
	switch {
	case err == nil:
		return dispAck
	case errors.Is(err, model.ErrInvalidTrigger),
		errors.Is(err, usecase.ErrDocNotFound),
		errors.Is(err, usecase.ErrJobNotFound):
		return dispTerm
	case model.CodeOf(err) != model.CodeInternal:
		return dispAck
	default:
		return dispNak
	}
}

// Config of the trigger stream and its durable consumer
type Config struct {
	Stream           string
	Consumer         string
	KnowledgeSubject string
	CatalogSubject   string
	AckWait          time.Duration
	MaxDeliver       int
	FetchWait        time.Duration
	RetryDelay       time.Duration
}

const (
	DefaultStream           = "INGEST"
	DefaultConsumer         = "ingestd"
	DefaultKnowledgeSubject = "ingest.knowledge"
	DefaultCatalogSubject   = "ingest.catalog"
)

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Consumer == "" {
		c.Consumer = DefaultConsumer
	}
	if c.KnowledgeSubject == "" {
		c.KnowledgeSubject = DefaultKnowledgeSubject
	}
	if c.CatalogSubject == "" {
		c.CatalogSubject = DefaultCatalogSubject
	}
	if c.AckWait <= 0 {
		c.AckWait = 10 * time.Minute
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 5
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 5 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	return c
}

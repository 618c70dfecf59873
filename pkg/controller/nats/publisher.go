package nats

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
)

// Publisher emits trigger payloads onto the trigger stream
type Publisher struct {
	js  jetstream.JetStream
	cfg Config
}

func NewPublisher(js jetstream.JetStream, cfg Config) *Publisher {
	return &Publisher{js: js, cfg: cfg.withDefaults()}
}

// NotifyCatalogJob publishes the trigger that starts a queued catalog job
func (p *Publisher) NotifyCatalogJob(ctx context.Context, job *model.CatalogIngestJob) error {
	t := model.CatalogTrigger{MarketID: job.MarketID, JobID: job.ID}
	return p.publish(ctx, p.cfg.CatalogSubject, t, string(job.ID))
}

// NotifyKnowledgeDoc publishes the trigger that starts knowledge ingestion
func (p *Publisher) NotifyKnowledgeDoc(ctx context.Context, t model.KnowledgeTrigger) error {
	return p.publish(ctx, p.cfg.KnowledgeSubject, t, string(t.DocID))
}

func (p *Publisher) publish(ctx context.Context, subject string, v any, msgID string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trigger", goerr.V("subject", subject))
	}
	// the message id lets the stream drop duplicate publishes of one trigger
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(subject+":"+msgID)); err != nil {
		return goerr.Wrap(err, "failed to publish trigger", goerr.V("subject", subject), goerr.V("msg_id", msgID))
	}
	return nil
}

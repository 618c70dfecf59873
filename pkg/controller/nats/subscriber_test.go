package nats_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	ctrl "github.com/secmon-lab/ingestd/pkg/controller/nats"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/usecase"
)

type mockMsg struct {
	subject string
	data    []byte
	acked   bool
	naked   bool
	termed  bool
}

func (m *mockMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: 1}, nil
}
func (m *mockMsg) Data() []byte                     { return m.data }
func (m *mockMsg) Headers() natsgo.Header           { return nil }
func (m *mockMsg) Subject() string                  { return m.subject }
func (m *mockMsg) Reply() string                    { return "" }
func (m *mockMsg) Ack() error                       { m.acked = true; return nil }
func (m *mockMsg) DoubleAck(context.Context) error  { m.acked = true; return nil }
func (m *mockMsg) Nak() error                       { m.naked = true; return nil }
func (m *mockMsg) NakWithDelay(time.Duration) error { m.naked = true; return nil }
func (m *mockMsg) InProgress() error                { return nil }
func (m *mockMsg) Term() error                      { m.termed = true; return nil }
func (m *mockMsg) TermWithReason(string) error      { m.termed = true; return nil }

type mockRunner struct {
	err       error
	knowledge []model.KnowledgeTrigger
	catalog   []model.CatalogTrigger
	ran       chan struct{}
}

func (m *mockRunner) Ingest(ctx context.Context, businessID string, docID model.KnowledgeDocID) error {
	m.knowledge = append(m.knowledge, model.KnowledgeTrigger{BusinessID: businessID, DocID: docID})
	return m.err
}

func (m *mockRunner) Run(ctx context.Context, marketID string, jobID model.JobID) error {
	m.catalog = append(m.catalog, model.CatalogTrigger{MarketID: marketID, JobID: jobID})
	if m.ran != nil {
		m.ran <- struct{}{}
	}
	return m.err
}

func TestHandleMessage(t *testing.T) {
	knowledgeMsg := func() *mockMsg {
		return &mockMsg{subject: ctrl.DefaultKnowledgeSubject, data: []byte(`{"businessId":"biz-1","docId":"doc-1"}`)}
	}

	testCases := []struct {
		name   string
		msg    *mockMsg
		err    error
		acked  bool
		naked  bool
		termed bool
	}{
		{name: "success acks", msg: knowledgeMsg(), acked: true},
		{
			name:  "classified failure acks",
			msg:   knowledgeMsg(),
			err:   goerr.Wrap(model.NewIngestError(model.CodeQuotaExceeded, ""), "knowledge ingestion failed"),
			acked: true,
		},
		{
			name:  "infrastructure failure naks",
			msg:   knowledgeMsg(),
			err:   goerr.New("firestore unavailable"),
			naked: true,
		},
		{
			name:   "unknown doc terminates",
			msg:    knowledgeMsg(),
			err:    goerr.Wrap(usecase.ErrDocNotFound, "knowledge doc not found"),
			termed: true,
		},
		{
			name:   "malformed payload terminates",
			msg:    &mockMsg{subject: ctrl.DefaultKnowledgeSubject, data: []byte(`{`)},
			termed: true,
		},
		{
			name:   "missing ids terminate",
			msg:    &mockMsg{subject: ctrl.DefaultCatalogSubject, data: []byte(`{"marketId":"m"}`)},
			termed: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &mockRunner{err: tc.err}
			sub := ctrl.NewSubscriber(nil, runner, runner, ctrl.Config{})

			sub.HandleMessage(context.Background(), tc.msg)
			gt.Value(t, tc.msg.acked).Equal(tc.acked)
			gt.Value(t, tc.msg.naked).Equal(tc.naked)
			gt.Value(t, tc.msg.termed).Equal(tc.termed)
		})
	}
}

func TestHandleMessage_RoutesBySubject(t *testing.T) {
	runner := &mockRunner{}
	sub := ctrl.NewSubscriber(nil, runner, runner, ctrl.Config{})

	sub.HandleMessage(context.Background(), &mockMsg{subject: ctrl.DefaultCatalogSubject, data: []byte(`{"marketId":"market-1","jobId":"job-1"}`)})
	sub.HandleMessage(context.Background(), &mockMsg{subject: ctrl.DefaultKnowledgeSubject, data: []byte(`{"businessId":"biz-1","docId":"doc-1"}`)})

	gt.Array(t, runner.catalog).Equal([]model.CatalogTrigger{{MarketID: "market-1", JobID: "job-1"}})
	gt.Array(t, runner.knowledge).Equal([]model.KnowledgeTrigger{{BusinessID: "biz-1", DocID: "doc-1"}})
}

// TestSubscriber_JetStream runs against a live server when TEST_NATS_URL is set
func TestSubscriber_JetStream(t *testing.T) {
	natsURL := os.Getenv("TEST_NATS_URL")
	if natsURL == "" {
		t.Skip("TEST_NATS_URL not set")
	}

	ctx := context.Background()
	nc, err := natsgo.Connect(natsURL)
	gt.NoError(t, err).Required()
	defer nc.Close()
	js, err := jetstream.New(nc)
	gt.NoError(t, err).Required()

	suffix := time.Now().Format("150405.000000")
	cfg := ctrl.Config{
		Stream:           "INGEST_TEST_" + time.Now().Format("150405"),
		Consumer:         "ingestd-test",
		KnowledgeSubject: "test." + suffix + ".knowledge",
		CatalogSubject:   "test." + suffix + ".catalog",
		FetchWait:        200 * time.Millisecond,
	}

	runner := &mockRunner{ran: make(chan struct{}, 1)}
	sub := ctrl.NewSubscriber(js, runner, runner, cfg)
	gt.NoError(t, sub.Start(ctx)).Required()
	defer func() {
		sub.Stop()
		_ = js.DeleteStream(ctx, cfg.Stream)
	}()

	pub := ctrl.NewPublisher(js, cfg)
	gt.NoError(t, pub.NotifyCatalogJob(ctx, &model.CatalogIngestJob{MarketID: "market-1", ID: "job-1"})).Required()

	select {
	case <-runner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger was not consumed")
	}
	sub.Stop()
	gt.Array(t, runner.catalog).Equal([]model.CatalogTrigger{{MarketID: "market-1", JobID: "job-1"}})
}

package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	natsctrl "github.com/secmon-lab/ingestd/pkg/controller/nats"
	"github.com/urfave/cli/v3"
)

// NATS holds flags for the JetStream trigger subscriber
type NATS struct {
	url        string
	stream     string
	consumer   string
	ackWait    time.Duration
	maxDeliver int
}

func (n *NATS) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "nats-url",
			Category:    "NATS",
			Usage:       "NATS server URL. The trigger subscriber is disabled when empty",
			Sources:     cli.EnvVars("INGESTD_NATS_URL"),
			Destination: &n.url,
		},
		&cli.StringFlag{
			Name:        "nats-stream",
			Category:    "NATS",
			Usage:       "JetStream stream carrying ingest triggers",
			Value:       natsctrl.DefaultStream,
			Sources:     cli.EnvVars("INGESTD_NATS_STREAM"),
			Destination: &n.stream,
		},
		&cli.StringFlag{
			Name:        "nats-consumer",
			Category:    "NATS",
			Usage:       "Durable consumer name shared by all instances",
			Value:       natsctrl.DefaultConsumer,
			Sources:     cli.EnvVars("INGESTD_NATS_CONSUMER"),
			Destination: &n.consumer,
		},
		&cli.DurationFlag{
			Name:        "nats-ack-wait",
			Category:    "NATS",
			Usage:       "Time a trigger may run before it is redelivered",
			Value:       10 * time.Minute,
			Sources:     cli.EnvVars("INGESTD_NATS_ACK_WAIT"),
			Destination: &n.ackWait,
		},
		&cli.IntFlag{
			Name:        "nats-max-deliver",
			Category:    "NATS",
			Usage:       "Maximum deliveries of one trigger",
			Value:       5,
			Sources:     cli.EnvVars("INGESTD_NATS_MAX_DELIVER"),
			Destination: &n.maxDeliver,
		},
	}
}

func (n NATS) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", n.url),
		slog.String("stream", n.stream),
		slog.String("consumer", n.consumer),
		slog.Duration("ack_wait", n.ackWait),
		slog.Int("max_deliver", n.maxDeliver),
	)
}

func (n *NATS) Enabled() bool {
	return n.url != ""
}

// Controller returns the subscriber and publisher configuration
func (n *NATS) Controller() natsctrl.Config {
	return natsctrl.Config{
		Stream:     n.stream,
		Consumer:   n.consumer,
		AckWait:    n.ackWait,
		MaxDeliver: n.maxDeliver,
	}
}

// Connect opens the NATS connection and its JetStream context. The caller drains the connection.
func (n *NATS) Connect() (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(n.url, nats.Name("ingestd"))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to connect to NATS", goerr.V("url", n.url))
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, goerr.Wrap(err, "failed to create JetStream context")
	}
	return nc, js, nil
}

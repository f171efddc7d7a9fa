package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facereg/pkg/dto"
)

const (
	ProposalsStreamName  = "PROPOSALS"
	ProposalsSubjectBase = "proposals"
	EventsStreamName     = "REGISTRY_EVENTS"
	EventsSubjectBase    = "registry.events"
)

type Producer struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	source string
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// NewProducer connects to NATS. source is stamped on every published event
// so consumers can tell the API's events from the worker's.
func NewProducer(natsURL, source string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js, source: source}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        ProposalsStreamName,
			Subjects:    []string{ProposalsSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  10 * time.Minute,
			Description: "Cluster proposals from the clustering pipeline",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Identity registry audit events",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Record publishes a registry instrumentation event without waiting for the
// ack, so it never blocks a registry mutation. Failures are logged.
func (p *Producer) Record(event string, payload map[string]any) {
	data, err := json.Marshal(dto.RegistryEvent{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Source:    p.source,
	})
	if err != nil {
		slog.Warn("marshal registry event", "event", event, "error", err)
		return
	}
	if _, err := p.js.PublishAsync(EventsSubjectBase+"."+event, data); err != nil {
		slog.Warn("publish registry event", "event", event, "error", err)
	}
}

// PublishProposal publishes a cluster proposal. The proposal id doubles as
// the JetStream message id so retried publishes are deduplicated.
func (p *Producer) PublishProposal(ctx context.Context, proposal dto.ClusterProposal) error {
	payload, err := json.Marshal(proposal)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", ProposalsSubjectBase, proposal.JobID)
	var opts []jetstream.PublishOpt
	if proposal.ProposalID != "" {
		opts = append(opts, jetstream.WithMsgID(proposal.ProposalID))
	}
	if _, err := p.js.Publish(ctx, subject, payload, opts...); err != nil {
		return fmt.Errorf("publish proposal: %w", err)
	}
	return nil
}

// PendingProposals returns the number of unprocessed messages in the PROPOSALS stream.
func (p *Producer) PendingProposals(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, ProposalsStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close waits briefly for in-flight async publishes, then disconnects.
func (p *Producer) Close() {
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		slog.Warn("nats close: async publishes still pending")
	}
	p.nc.Close()
}

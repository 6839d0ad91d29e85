package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"VaultLedger/internal/settlement"
)

// OutboundPublisher announces settled events to downstream consumers.
// It reads from the persistence worker's confirmed channel, so an event
// is only published after its Postgres commit: a subscriber never sees
// an event the ledger could lose.
// Subjects follow the pattern vault.ledger.events.{event_type}[.{asset}].
type OutboundPublisher struct {
	js     jetstream.JetStream
	input  <-chan settlement.Output
	logger zerolog.Logger
}

// outboundJSON is the published wire format.
type outboundJSON struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Asset          *string         `json:"asset,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	StateHash      []byte          `json:"state_hash"`
	PrevHash       []byte          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan settlement.Output, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:     js,
		input:  input,
		logger: logger,
	}
}

func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.input:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				// Non-fatal: downstream consumers can read the event log.
				op.logger.Warn().Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out settlement.Output) error {
	env := out.Envelope

	msg := outboundJSON{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.Asset,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}

	subject := fmt.Sprintf("vault.ledger.events.%s", env.EventType.String())
	if env.Asset != nil {
		subject = fmt.Sprintf("%s.%s", subject, *env.Asset)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_LEDGER_EVENTS",
		Subjects:  []string{"vault.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "VAULT_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}

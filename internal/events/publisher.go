// Package events publishes ledger activity to Kafka for downstream
// consumers (notifications, analytics). Publishing happens after the
// posting is durable and failures never roll the ledger back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/ledger"
)

// PostingAppended is the event emitted for every durably appended
// posting.
type PostingAppended struct {
	PostingID     string          `json:"posting_id"`
	AccountID     string          `json:"account_id"`
	OwnerID       string          `json:"owner_id"`
	CategoryID    string          `json:"category_id,omitempty"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	PeerAccountID string          `json:"peer_account_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Publisher writes posting events to a Kafka topic. A nil Publisher is
// valid and drops everything.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

var _ ledger.PostingObserver = (*Publisher)(nil)

// PostingAppended implements ledger.PostingObserver.
func (p *Publisher) PostingAppended(ctx context.Context, posting *ledger.Posting) error {
	if p == nil || p.writer == nil {
		return nil
	}

	ev := PostingAppended{
		PostingID:     posting.ID,
		AccountID:     posting.AccountID,
		OwnerID:       posting.OwnerID,
		CategoryID:    posting.CategoryID,
		Kind:          string(posting.Kind),
		Amount:        posting.Amount,
		PeerAccountID: posting.PeerAccountID,
		Timestamp:     posting.Timestamp,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(posting.AccountID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish posting event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

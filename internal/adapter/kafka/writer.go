package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/islandhamstar/covid-impact/internal/config"
	"github.com/islandhamstar/covid-impact/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes impact scores to a Kafka topic, one message per region and
// day. It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// ScoreMessage is the JSON value of a published score.
type ScoreMessage struct {
	RunID      string             `json:"run_id"`
	ComputedAt time.Time          `json:"computed_at"`
	Method     string             `json:"method"`
	Region     string             `json:"region"`
	Date       string             `json:"date"`
	Score      float64            `json:"score"`
	Coverage   float64            `json:"coverage"`
	Indicators map[string]float64 `json:"indicators"`
}

// Publish serializes every score of the run and writes them in a single
// WriteMessages call. Messages are keyed by region and date so re-published
// runs compact onto the same keys.
func (w *Writer) Publish(ctx context.Context, run domain.ScoreRun) error {
	if len(run.Table.Scores) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(run.Table.Scores))
	for i := range run.Table.Scores {
		msg, err := serializeToMessage(run, run.Table.Scores[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish scores: %w", err)
	}
	w.logger.Debug("scores published", "run_id", run.ID, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey is the partitioning key of a score.
func MessageKey(s domain.ImpactScore) string {
	return s.Region + "|" + s.Date.Format(domain.DateLayout)
}

// serializeToMessage marshals one ImpactScore of a run into a Kafka message.
func serializeToMessage(run domain.ScoreRun, s domain.ImpactScore) (kafkago.Message, error) {
	data, err := json.Marshal(ScoreMessage{
		RunID:      run.ID,
		ComputedAt: run.ComputedAt,
		Method:     string(run.Table.Method),
		Region:     s.Region,
		Date:       s.Date.Format(domain.DateLayout),
		Score:      s.Score,
		Coverage:   s.Coverage,
		Indicators: s.Indicators,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize impact score: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(s)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(run.ID)},
			{Key: "method", Value: []byte(run.Table.Method)},
			{Key: "computed_at", Value: []byte(run.ComputedAt.Format(time.RFC3339))},
		},
	}, nil
}

package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-tracking/internal/models"
)

// PositionPublisher fans observed driver positions out to kafka for
// downstream consumers (analytics, partner ETA models). Optional: the
// gateway runs without it when no brokers are configured.
type PositionPublisher struct {
	writer *kafka.Writer
}

func NewPositionPublisher(brokers []string, topic string) *PositionPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &PositionPublisher{writer: w}
}

type positionEvent struct {
	OrderID string  `json:"order_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	At      string  `json:"at"`
}

// Publish is best-effort: the tracking pipeline never blocks on the fan-out.
func (p *PositionPublisher) Publish(orderID string, pos models.DriverPosition) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(positionEvent{
		OrderID: orderID,
		Lat:     pos.Lat,
		Lng:     pos.Lng,
		At:      pos.ReceivedAt.Format(time.RFC3339),
	})
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(orderID), Value: b})
}

func (p *PositionPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"ticketline/internal/models"
)

// TicketEvent is the value published for every lifecycle transition.
type TicketEvent struct {
	EventID string        `json:"event_id"`
	Type    string        `json:"type"`
	Ticket  models.Ticket `json:"ticket"`
	At      time.Time     `json:"at"`
}

// SlotFreedEvent announces a released bundle-promo slot.
type SlotFreedEvent struct {
	EventID   string    `json:"event_id"`
	EventCode string    `json:"event_code"`
	RowID     int64     `json:"row_id"`
	At        time.Time `json:"at"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishTicketEvent streams one lifecycle transition, keyed by row id so a
// row's events stay ordered within a partition.
func (p *Producer) PublishTicketEvent(eventType string, ticket models.Ticket) error {
	value, err := json.Marshal(TicketEvent{
		EventID: uuid.NewString(),
		Type:    eventType,
		Ticket:  ticket,
		At:      time.Now(),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: "ticketline.ticket." + eventType,
		Key:   []byte(strconv.FormatInt(ticket.ID, 10)),
		Value: value,
	})
}

func (p *Producer) PublishSlotFreed(eventCode string, rowID int64) error {
	value, err := json.Marshal(SlotFreedEvent{
		EventID:   uuid.NewString(),
		EventCode: eventCode,
		RowID:     rowID,
		At:        time.Now(),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: TopicSlotFreed,
		Key:   []byte(eventCode),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

package kafka

import (
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// Ticket lifecycle topics, one per transition.
	TopicTicketCreated  = "ticketline.ticket.created"
	TopicTicketClaimed  = "ticketline.ticket.claimed"
	TopicTicketApproved = "ticketline.ticket.approved"
	TopicTicketRejected = "ticketline.ticket.rejected"
	TopicTicketExpired  = "ticketline.ticket.expired"
	TopicTicketRedeemed = "ticketline.ticket.redeemed"

	// TopicSlotFreed announces a released bundle-promo slot; the waitlist
	// notifier consumes it.
	TopicSlotFreed = "ticketline.promo.slot_freed"
)

// RequiredTopics lists everything the service publishes to.
func RequiredTopics() []string {
	return []string{
		TopicTicketCreated,
		TopicTicketClaimed,
		TopicTicketApproved,
		TopicTicketRejected,
		TopicTicketExpired,
		TopicTicketRedeemed,
		TopicSlotFreed,
	}
}

// EnsureTopicsExist creates Kafka topics if they don't already exist.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controller.Host)
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil {
			if err.Error() == "kafka server: topic already exists" {
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
		}
	}

	// Give the broker a moment to settle new topics.
	time.Sleep(1 * time.Second)
	return nil
}

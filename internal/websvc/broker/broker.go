package broker

import (
	"encoding/json"
	"errors"

	"github.com/avvvet/tcg-companion/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Subject carries card events between web service instances.
const Subject = "cards.events"

type Broker struct {
	Conn       *nats.Conn
	Subject    string
	SendToUser func(userId string, m *comm.WSMessage) int
}

func NewBroker(conn *nats.Conn, fncSendToUser func(string, *comm.WSMessage) int) *Broker {
	return &Broker{
		Conn:       conn,
		Subject:    Subject,
		SendToUser: fncSendToUser,
	}
}

// consume card events published by any instance, this one included
func (b *Broker) Subscribe() (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(b.Subject, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) Publish(payload []byte) error {
	if b.Conn == nil {
		return errors.New("nats connection not set")
	}
	err := b.Conn.Publish(b.Subject, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", b.Subject, err)
		return err
	}

	return nil
}

// PublishCardCreated announces a new card of userId to every instance.
func (b *Broker) PublishCardCreated(userId string, ev comm.CardCreated) error {
	msg, err := comm.NewMessage(comm.TypeCardCreated, ev)
	if err != nil {
		return err
	}
	msg.UserId = userId

	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.Publish(bytes)
}

func (b *Broker) handleMessages(msgNats *nats.Msg) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(msgNats.Data, message); err != nil {
		log.Errorf("Error: malformed card event %s", err)
		return
	}

	switch message.Type {
	case comm.TypeCardCreated:
		if message.UserId == "" {
			log.Warn("card event without user dropped")
			return
		}
		n := b.SendToUser(message.UserId, message)
		log.Debugf("card-created relayed to %d sockets of %s", n, message.UserId)
	default:
		log.Errorf("Unknown message %s", message.Type)
	}
}

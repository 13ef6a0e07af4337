package relay

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/comm"
)

// Room lifecycle events published by the relay.
const (
	EventRoomOpened = "room-opened"
	EventRoomClosed = "room-closed"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// Broker announces room lifecycle events on a NATS subject so that other
// processes can follow which rooms the relay holds.
type Broker struct {
	conn    publisher
	subject string
}

func NewBroker(conn publisher, subject string) *Broker {
	return &Broker{conn: conn, subject: subject}
}

// Notify is installed with (*Hub).Observe.
func (b *Broker) Notify(event, code string) {
	payload, err := json.Marshal(&comm.WSMessage{Type: event, Code: code})
	if err != nil {
		log.Errorf("Error encoding %s event %s", event, err)
		return
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		log.Errorf("Error publishing to topic %s: %s", b.subject, err)
	}
}

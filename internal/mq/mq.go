/*
Package mq exports presence transitions to RabbitMQ so other services can
consume join and leave events without holding a WebSocket connection to the
relay.  The exchange is optional: a relay started without a broker URL uses
the nop publisher and keeps everything else working.
*/
package mq

import (
	"context"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// exchange is the topic exchange presence events are published to.  Routing
// keys have the form "<roomKey>.<transition>".
const exchange = "presence"

/*
Publisher is the hub's view of the export bridge.  Publishing is best-effort:
a failed publish is logged, never surfaced to any client.
*/
type Publisher interface {
	Publish(routingKey string, body []byte)
}

/*
Dialer wraps a single AMQP connection to RabbitMQ.  Only a single connection
is used to save resources; channels are cheap and opened per publisher.
*/
type Dialer struct {
	Connection *amqp091.Connection
}

func Dial(url string) (Dialer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return Dialer{}, err
	}
	return Dialer{Connection: conn}, nil
}

func (d Dialer) Release() {
	d.Connection.Close()
}

/*
PresencePublisher publishes presence events over a dedicated channel in
confirm mode.
*/
type PresencePublisher struct {
	channel *amqp091.Channel
}

/*
NewPresencePublisher opens a channel, puts it into confirm mode and declares
the presence exchange.
*/
func NewPresencePublisher(d Dialer) (*PresencePublisher, error) {
	ch, err := d.Connection.Channel()
	if err != nil {
		return nil, err
	}
	if err = ch.Confirm(false); err != nil {
		ch.Close()
		return nil, err
	}
	if err = ch.ExchangeDeclare(exchange, "topic", false, true, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	return &PresencePublisher{channel: ch}, nil
}

/*
Publish publishes an event with the specified routing key.  Waits up to 5
seconds for the event to be published; otherwise, an error is logged.
*/
func (p *PresencePublisher) Publish(routingKey string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			Body:        body,
			ContentType: "application/json",
		},
	)
	if err != nil {
		log.Printf("cannot publish a presence event: %s", err)
	}
}

func (p *PresencePublisher) Close() {
	p.channel.Close()
}

// NopPublisher discards every event.  Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, []byte) {}

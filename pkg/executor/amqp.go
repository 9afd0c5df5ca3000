package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/osprey-intel/taskflow/pkg/task"
)

const amqpRedialDelay = 30 * time.Second

var errNotConnected = errors.New("unable to send task to AMQP server: not connected")

// amqpResponse is the reply a worker publishes to the ReplyTo queue.
type amqpResponse struct {
	Result task.Result `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// AMQPExecutor hands tasks to out-of-process workers over RabbitMQ. Each
// request is published to the queue named after the task kind with a
// correlation id and a ReplyTo pointing at this executor's exclusive reply
// queue; Execute blocks until the correlated reply arrives or the context
// expires.
type AMQPExecutor struct {
	address string
	done    chan struct{}

	mutex       sync.Mutex
	sendChannel *amqp.Channel
	replyQueue  string
	pending     map[string]chan amqpResponse
}

// NewAMQPExecutor starts the session loop for the broker at address. The
// executor keeps reconnecting until Close is called.
func NewAMQPExecutor(address string) *AMQPExecutor {
	e := &AMQPExecutor{
		address: address,
		done:    make(chan struct{}),
		pending: make(map[string]chan amqpResponse),
	}
	go e.run()
	return e
}

// Close stops the session loop. In-flight Execute calls fail once their
// context expires.
func (e *AMQPExecutor) Close() {
	close(e.done)
}

func (e *AMQPExecutor) Execute(ctx context.Context, req Request) (task.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("amqp send: %w", err)
	}

	correlationID := uuid.NewString()
	replyCh := make(chan amqpResponse, 1)
	e.mutex.Lock()
	e.pending[correlationID] = replyCh
	e.mutex.Unlock()
	defer func() {
		e.mutex.Lock()
		delete(e.pending, correlationID)
		e.mutex.Unlock()
	}()

	if err := e.publish(req.Kind, correlationID, body); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-replyCh:
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp.Result, nil
	}
}

func (e *AMQPExecutor) publish(qname, correlationID string, body []byte) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.sendChannel == nil {
		return errNotConnected
	}
	msg := amqp.Publishing{
		CorrelationId: correlationID,
		ContentType:   "application/json",
		ReplyTo:       e.replyQueue,
		DeliveryMode:  amqp.Persistent,
		Body:          body,
	}
	return e.sendChannel.Publish(
		"",    // exchange
		qname, // routing-key
		false, // mandatory
		false, // immediate
		msg)
}

// resolve routes a worker reply to the Execute call waiting on it.
func (e *AMQPExecutor) resolve(correlationID string, body []byte) {
	var resp amqpResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		resp = amqpResponse{Error: fmt.Sprintf("malformed reply: %v", err)}
	}

	e.mutex.Lock()
	replyCh, ok := e.pending[correlationID]
	e.mutex.Unlock()
	if !ok {
		log.Warn().Str("correlation_id", correlationID).Msg("amqp reply without a waiter")
		return
	}
	select {
	case replyCh <- resp:
	default:
	}
}

// run dials the broker and serves one connection at a time, rebuilding
// channels when the broker closes them and redialing when the connection
// drops.
func (e *AMQPExecutor) run() {
	for {
		select {
		case <-e.done:
			return
		default:
		}

		connection, err := amqp.Dial(e.address)
		if err != nil {
			log.Warn().Err(err).Str("address", e.address).Msg("amqp dial failed")
			select {
			case <-e.done:
				return
			case <-time.After(amqpRedialDelay):
			}
			continue
		}

		connErrChan := make(chan *amqp.Error)
		connection.NotifyClose(connErrChan)

		sendChannel, err := connection.Channel()
		if err != nil {
			connection.Close()
			continue
		}

		recvChannel, deliveryCh, err := e.recvChannelCreate(connection)
		if err != nil {
			sendChannel.Close()
			connection.Close()
			continue
		}

		sendErrChan := make(chan *amqp.Error)
		sendChannel.NotifyClose(sendErrChan)

		recvErrChan := make(chan *amqp.Error)
		recvChannel.NotifyClose(recvErrChan)

		e.mutex.Lock()
		e.sendChannel = sendChannel
		e.mutex.Unlock()
		isConnected := true

		for isConnected {
			select {
			case m := <-deliveryCh:
				e.resolve(m.CorrelationId, m.Body)

			case qerr := <-recvErrChan:
				log.Warn().Err(qerr).Msg("amqp recv channel error")
				recvChannel, deliveryCh, err = e.recvChannelCreate(connection)
				if err == nil {
					recvChannel.NotifyClose(recvErrChan)
				} else {
					log.Warn().Err(err).Msg("amqp recv channel reconnect failed")
					sendChannel.Close()
					connection.Close()
					isConnected = false
				}

			case qerr := <-sendErrChan:
				log.Warn().Err(qerr).Msg("amqp send channel error")
				sendChannel, err = connection.Channel()
				if err == nil {
					sendChannel.NotifyClose(sendErrChan)
					e.mutex.Lock()
					e.sendChannel = sendChannel
					e.mutex.Unlock()
				} else {
					log.Warn().Err(err).Msg("amqp send channel reconnect failed")
					recvChannel.Close()
					connection.Close()
					isConnected = false
				}

			case qerr := <-connErrChan:
				log.Warn().Err(qerr).Msg("amqp connection error")
				isConnected = false

			case <-e.done:
				connection.Close()
				e.mutex.Lock()
				e.sendChannel = nil
				e.mutex.Unlock()
				return
			}
		}
		e.mutex.Lock()
		e.sendChannel = nil
		e.mutex.Unlock()
	}
}

func (e *AMQPExecutor) recvChannelCreate(connection *amqp.Connection) (*amqp.Channel, <-chan amqp.Delivery, error) {
	recvChannel, err := connection.Channel()
	if err != nil {
		return nil, nil, err
	}

	q, err := recvChannel.QueueDeclare(
		"",    // name, broker assigned
		false, // durable
		false, // autoDelete
		true,  // exclusive
		false, // noWait
		nil)
	if err != nil {
		return nil, nil, err
	}
	e.mutex.Lock()
	e.replyQueue = q.Name
	e.mutex.Unlock()

	ch, err := recvChannel.Consume(q.Name, "", true, true, false, false, nil)
	return recvChannel, ch, err
}

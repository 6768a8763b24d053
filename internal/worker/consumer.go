package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/cuongbtq/offer-ingest/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// errDeliveriesClosed is returned when the broker closes the delivery channel
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// acknowledger settles one delivery; amqp.Delivery implements it
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// jobMessage is one decoded delivery handed to the pool
type jobMessage struct {
	RequestID string
	Delivery  acknowledger
}

// decodeMessage extracts the request id from a queue message body
func decodeMessage(body []byte) (string, error) {
	var msg ingestdomain.RequestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	if _, err := uuid.Parse(msg.RequestID); err != nil {
		return "", fmt.Errorf("%w: request_id %q is not a UUID", domain.ErrInvalidMessage, msg.RequestID)
	}

	return msg.RequestID, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool until
// ctx is canceled or the broker closes the channel.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return errDeliveriesClosed
			}
			if !w.dispatch(ctx, delivery.Body, delivery) {
				return nil
			}
		}
	}
}

// dispatch reports false when ctx ended before the pool accepted the message
func (w *Worker) dispatch(ctx context.Context, body []byte, delivery acknowledger) bool {
	requestID, err := decodeMessage(body)
	if err != nil {
		w.logger.Error("Rejecting malformed message",
			slog.String("error", err.Error()),
			slog.String("body", string(body)),
		)
		// malformed messages go to the dead letter exchange, if any
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return true
	}

	select {
	case w.jobsChan <- &jobMessage{RequestID: requestID, Delivery: delivery}:
		w.logger.Debug("Request dispatched to worker pool",
			slog.String("request_id", requestID),
		)
		return true
	case <-ctx.Done():
		w.logger.Info("Message dispatcher stopped while dispatching request")
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK message on shutdown",
				slog.String("error", nackErr.Error()),
			)
		}
		return false
	}
}

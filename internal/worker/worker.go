// Package worker provides a NATS worker that serves narration requests.
//
// It is the deployment surface standing in for an HTTP layer: requests
// arrive as NarrationRequestedEvent messages on a subject, the worker
// drives the generation facade, and the reply carries the artifact key or
// a structured failure.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/grimfeed/narration-service/internal/narration"
	"github.com/grimfeed/narration-service/internal/scheduler"
	"github.com/grimfeed/narration-service/internal/voice"
)

const handleMessageTimeout = 120 * time.Second

// NarrationRequestedEvent asks for narration of one piece of content.
type NarrationRequestedEvent struct {
	Header     events.EventHeader `json:"Header"`
	OwnerID    string             `json:"OwnerID"`
	VoiceStyle string             `json:"VoiceStyle"`
	Intensity  int                `json:"Intensity"`
	Text       string             `json:"Text"`
	Priority   string             `json:"Priority"`
}

// NarrationReadyEvent is the reply: a terminal outcome for the request.
// AudioKey is set when State is completed; ErrorReason and ErrorClass are
// set when it is not.
type NarrationReadyEvent struct {
	Header      events.EventHeader `json:"Header"`
	State       string             `json:"State"`
	AudioKey    string             `json:"AudioKey"`
	Cached      bool               `json:"Cached"`
	ErrorReason string             `json:"ErrorReason,omitempty"`
	ErrorClass  string             `json:"ErrorClass,omitempty"`
}

// NatsWorker listens for narration requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	service        *narration.Service
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	service *narration.Service,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		service:        service,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event NarrationRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal narration request: %v", err)

		return
	}

	reply := w.processRequest(ctx, &event)

	err = w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processRequest drives the facade to a terminal outcome for one event.
func (w *NatsWorker) processRequest(ctx context.Context, event *NarrationRequestedEvent) *NarrationReadyEvent {
	reply := &NarrationReadyEvent{
		Header:      w.replyHeader(event),
		State:       string(scheduler.StateFailed),
		AudioKey:    "",
		Cached:      false,
		ErrorReason: "",
		ErrorClass:  "",
	}

	result, err := w.service.Request(ctx, narration.Request{
		OwnerID:    event.OwnerID,
		VoiceStyle: voice.Style(event.VoiceStyle),
		Intensity:  event.Intensity,
		Text:       event.Text,
		Priority:   event.Priority,
	})
	if err != nil {
		w.log.Error("Rejected narration request for workflow %s: %v", event.Header.WorkflowID, err)

		reply.ErrorReason = err.Error()

		return reply
	}

	if result.Cached {
		reply.State = string(scheduler.StateCompleted)
		reply.AudioKey = result.ArtifactRef
		reply.Cached = true

		return reply
	}

	status, err := w.service.Await(ctx, result.TicketID)
	if err != nil {
		w.log.Error("Failed to await narration for workflow %s: %v", event.Header.WorkflowID, err)

		reply.ErrorReason = "narration timed out: " + err.Error()

		return reply
	}

	reply.State = string(status.State)
	reply.AudioKey = status.ArtifactRef
	reply.ErrorReason = status.ErrorReason
	reply.ErrorClass = string(status.ErrorClass)

	return reply
}

func (w *NatsWorker) replyHeader(event *NarrationRequestedEvent) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: event.Header.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     event.Header.UserID,
		TenantID:   event.Header.TenantID,
	}
}

func (w *NatsWorker) respond(msg *nats.Msg, reply *NarrationReadyEvent) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

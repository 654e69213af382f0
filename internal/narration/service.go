// Package narration provides the single entry point for narration generation.
//
// The service validates a request, derives its fingerprint, and either
// returns a cached artifact immediately or hands the work to the scheduler,
// exposing the asynchronous generate -> poll -> complete/fail lifecycle.
package narration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/grimfeed/narration-service/internal/scheduler"
	"github.com/grimfeed/narration-service/internal/voice"
)

// Static validation errors.
var (
	ErrTextEmpty    = errors.New("text cannot be empty")
	ErrTextTooLong  = errors.New("text exceeds maximum content length")
	ErrOwnerIDEmpty = errors.New("owner id cannot be empty")
)

// Request is one narration request as seen by the transport layer.
type Request struct {
	OwnerID    string
	VoiceStyle voice.Style
	Intensity  int
	Text       string
	Priority   string
}

// Result is the synchronous outcome of a request: either a cached artifact
// or a ticket to poll.
type Result struct {
	Cached      bool
	ArtifactRef string
	TicketID    string
	JobID       string
}

// Service is the generation facade consumed by the transport layer.
type Service struct {
	sched            *scheduler.Scheduler
	profiles         *voice.Registry
	maxContentLength int
	log              *logger.Logger
}

// NewService creates the facade.
func NewService(
	sched *scheduler.Scheduler,
	profiles *voice.Registry,
	maxContentLength int,
	log *logger.Logger,
) *Service {
	return &Service{
		sched:            sched,
		profiles:         profiles,
		maxContentLength: maxContentLength,
		log:              log,
	}
}

// Request validates the narration request, resolves its voice parameters
// and fingerprint, and submits it. On a cache hit the artifact reference is
// returned immediately and no job is created; otherwise the result carries
// a ticket id for Poll and Cancel.
func (s *Service) Request(ctx context.Context, req Request) (Result, error) {
	err := s.validate(req)
	if err != nil {
		return Result{}, err
	}

	params, err := s.profiles.ParamsFor(req.VoiceStyle, req.Intensity)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve voice parameters: %w", err)
	}

	priority, err := scheduler.ParsePriority(req.Priority)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse priority: %w", err)
	}

	fingerprint := Fingerprint(req.OwnerID, req.VoiceStyle, req.Intensity, req.Text)

	submitted, err := s.sched.Submit(ctx, scheduler.Request{
		Fingerprint: fingerprint,
		Text:        req.Text,
		VoiceStyle:  string(req.VoiceStyle),
		Params:      params,
		Priority:    priority,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to submit narration job: %w", err)
	}

	if submitted.Cached {
		s.log.Info("Narration cache hit for owner %s (style %s)", req.OwnerID, req.VoiceStyle)

		return Result{Cached: true, ArtifactRef: submitted.ArtifactRef, TicketID: "", JobID: ""}, nil
	}

	return Result{
		Cached:      false,
		ArtifactRef: "",
		TicketID:    submitted.TicketID,
		JobID:       submitted.JobID,
	}, nil
}

// Poll reports the current state of a ticket. It never blocks and never
// mutates job state.
func (s *Service) Poll(ticketID string) (scheduler.Status, error) {
	status, err := s.sched.Status(ticketID)
	if err != nil {
		return scheduler.Status{}, fmt.Errorf("failed to poll ticket '%s': %w", ticketID, err)
	}

	return status, nil
}

// Cancel detaches the caller from its job. Cancelling an already-terminal
// ticket is acknowledged as a no-op.
func (s *Service) Cancel(ticketID string) error {
	err := s.sched.Cancel(ticketID)
	if err != nil {
		return fmt.Errorf("failed to cancel ticket '%s': %w", ticketID, err)
	}

	return nil
}

// Await blocks until the ticket's job reaches a terminal state or ctx ends.
func (s *Service) Await(ctx context.Context, ticketID string) (scheduler.Status, error) {
	status, err := s.sched.Await(ctx, ticketID)
	if err != nil {
		return scheduler.Status{}, fmt.Errorf("failed to await ticket '%s': %w", ticketID, err)
	}

	return status, nil
}

// Styles lists the configured voice profiles for discovery.
func (s *Service) Styles() []voice.Profile {
	return s.profiles.Styles()
}

func (s *Service) validate(req Request) error {
	if req.OwnerID == "" {
		return ErrOwnerIDEmpty
	}

	if req.Text == "" {
		return ErrTextEmpty
	}

	if len(req.Text) > s.maxContentLength {
		return fmt.Errorf("%w: %d > %d", ErrTextTooLong, len(req.Text), s.maxContentLength)
	}

	if !s.profiles.Known(req.VoiceStyle) {
		return fmt.Errorf("%w: '%s'", voice.ErrUnknownStyle, req.VoiceStyle)
	}

	if req.Intensity < voice.MinIntensity || req.Intensity > voice.MaxIntensity {
		return fmt.Errorf("%w: got %d", voice.ErrIntensityRange, req.Intensity)
	}

	return nil
}

// Fingerprint derives the deterministic cache key for a narration request.
// Identical logical requests always produce the same fingerprint; the text
// participates through its own hash so the key stays fixed-length.
func Fingerprint(ownerID string, style voice.Style, intensity int, text string) string {
	textHash := sha256.Sum256([]byte(text))

	keyHash := sha256.New()
	fmt.Fprintf(keyHash, "%s|%s|%d|%s", ownerID, style, intensity, hex.EncodeToString(textHash[:]))

	return hex.EncodeToString(keyHash.Sum(nil))
}

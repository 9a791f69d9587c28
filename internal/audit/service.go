package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader is implemented by repositories that can serve call history.
type Reader interface {
	ForCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records pipeline transitions and operator actions.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent       = errors.New("audit: invalid event")
	ErrHistoryUnavailable = errors.New("audit: repository cannot serve history")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Type == EventTypeStageTransition && (e.CallID == "" || e.Stage == "") {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records a pipeline stage change for a call.
func (s *Service) LogTransition(ctx context.Context, callID, recordingID, stage, failureReason string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeStageTransition,
		CallID:        callID,
		RecordingID:   recordingID,
		Stage:         stage,
		FailureReason: failureReason,
	})
}

// LogAdminAction records an operator action such as reconcile or archive.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, callID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CallID:      callID,
		Message:     message,
		Metadata:    metadata,
	})
}

// History returns the recorded events for callID.
func (s *Service) History(ctx context.Context, callID string) ([]Event, error) {
	r, ok := s.repo.(Reader)
	if !ok {
		return nil, ErrHistoryUnavailable
	}
	return r.ForCall(ctx, callID)
}

// internal/enrollment/implementation.go
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/JaviNavarroB/Cierzo/internal/catalog"
	"github.com/JaviNavarroB/Cierzo/internal/membership"
)

// service implements the Service interface.
type service struct {
	store    Store
	loc      *time.Location
	now      func() time.Time
	tracer   trace.Tracer
	attempts metric.Int64Counter
}

// NewService creates a new enrollment service instance. loc decides which
// calendar day is "today" for event dates and deadlines.
func NewService(store Store, loc *time.Location) Service {
	return newService(store, loc, otel.GetMeterProvider())
}

func newService(store Store, loc *time.Location, mp metric.MeterProvider) *service {
	if loc == nil {
		loc = time.UTC
	}

	attempts, err := mp.Meter("cierzo/enrollment").Int64Counter(
		"cierzo.enrollment.attempts",
		metric.WithDescription("Enrollment attempts by kind and outcome"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create enrollment counter")
	}

	return &service{
		store:    store,
		loc:      loc,
		now:      time.Now,
		tracer:   otel.Tracer("cierzo/enrollment"),
		attempts: attempts,
	}
}

// EnrollEvent enrolls a user in an event. The event row stays locked from
// the capacity check until the record is committed, so concurrent requests
// for the last spot are served one at a time.
func (s *service) EnrollEvent(ctx context.Context, userID, eventID int64, password string) (rec *EventRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.enroll_event",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int64("event.id", eventID),
		),
	)
	defer func() { s.finish(ctx, span, "event", err) }()

	if err := s.checkPassword(ctx, userID, password); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return userError(err)
		}

		slot, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}

		today := catalog.Today(s.now(), s.loc)
		if slot.Date.Before(today) {
			return ErrEventExpired
		}
		if slot.Deadline != nil && slot.Deadline.Before(today) {
			return ErrRegistrationClosed
		}

		if slot.Capacity != nil {
			enrolled, err := tx.CountEventEnrollments(ctx, eventID)
			if err != nil {
				return err
			}
			if enrolled >= *slot.Capacity {
				return ErrCapacityExceeded
			}
		}

		exists, err := tx.HasEventEnrollment(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyEnrolled
		}

		rec = &EventRecord{
			ID:        uuid.New(),
			UserID:    userID,
			EventID:   eventID,
			Status:    StatusEnrolled,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.InsertEventEnrollment(ctx, rec); err != nil {
			return err
		}

		return tx.Append(ctx, userID, EventEnrollmentCreated, EventEnrollmentCreatedEvent{
			EnrollmentID: rec.ID,
			UserID:       userID,
			EventID:      eventID,
		})
	})
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// EnrollTeam enrolls a user in a team and promotes guests and members to
// players in the same transaction.
func (s *service) EnrollTeam(ctx context.Context, userID, teamID int64, password string) (res *TeamEnrollment, err error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.enroll_team",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int64("team.id", teamID),
		),
	)
	defer func() { s.finish(ctx, span, "team", err) }()

	if err := s.checkPassword(ctx, userID, password); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return userError(err)
		}

		if err := tx.LockTeam(ctx, teamID); err != nil {
			return err
		}

		exists, err := tx.HasTeamEnrollment(ctx, userID, teamID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyEnrolled
		}

		rec := &TeamRecord{
			ID:        uuid.New(),
			UserID:    userID,
			TeamID:    teamID,
			Status:    StatusEnrolled,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.InsertTeamEnrollment(ctx, rec); err != nil {
			return err
		}

		before := user.Role
		after := before.AfterTeamJoin()
		if after != before {
			if err := tx.SetRole(ctx, userID, after); err != nil {
				return err
			}
			user.Role = after
			err := tx.Append(ctx, userID, membership.EventUserRoleChanged, membership.UserRoleChangedEvent{
				UserID:  userID,
				OldRole: before,
				NewRole: after,
				Reason:  "team_enrollment",
			})
			if err != nil {
				return err
			}
		}

		if err := tx.Append(ctx, userID, TeamEnrollmentCreated, TeamEnrollmentCreatedEvent{
			EnrollmentID: rec.ID,
			UserID:       userID,
			TeamID:       teamID,
			RoleBefore:   before,
			RoleAfter:    after,
		}); err != nil {
			return err
		}

		res = &TeamEnrollment{Record: rec, User: user}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// checkPassword runs before any lock is taken; hashing is slow.
func (s *service) checkPassword(ctx context.Context, userID int64, password string) error {
	if userID <= 0 {
		return ErrNotAuthenticated
	}

	cred, err := s.store.Credential(ctx, userID)
	if err != nil {
		return classify(userError(err))
	}

	ok, err := membership.VerifyPassword(password, cred.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: verify password: %w", ErrPersistence, err)
	}
	if !ok {
		return ErrInvalidCredential
	}
	return nil
}

func userError(err error) error {
	if errors.Is(err, membership.ErrUserNotFound) {
		return ErrNotAuthenticated
	}
	return err
}

var domainErrors = []error{
	ErrNotAuthenticated,
	ErrInvalidCredential,
	ErrEventNotFound,
	ErrTeamNotFound,
	ErrEventExpired,
	ErrRegistrationClosed,
	ErrCapacityExceeded,
	ErrAlreadyEnrolled,
	ErrPersistence,
}

// classify passes domain errors through and wraps anything else as a
// persistence failure.
func classify(err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (s *service) finish(ctx context.Context, span trace.Span, kind string, err error) {
	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("enrollment.outcome", outcome))
	if errors.Is(err, ErrPersistence) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if s.attempts != nil {
		s.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		))
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "enrolled"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrTeamNotFound):
		return "not_found"
	case errors.Is(err, ErrEventExpired):
		return "expired"
	case errors.Is(err, ErrRegistrationClosed):
		return "closed"
	case errors.Is(err, ErrCapacityExceeded):
		return "full"
	case errors.Is(err, ErrAlreadyEnrolled):
		return "duplicate"
	default:
		return "error"
	}
}

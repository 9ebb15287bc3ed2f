// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/JaviNavarroB/Cierzo/internal/auth"
	"github.com/JaviNavarroB/Cierzo/pkg/eventstore"
)

// Options tunes a membership service.
type Options struct {
	// RatePerMinute and Burst bound register and login calls; zero disables the limit.
	RatePerMinute int
	Burst         int
	HashParams    Argon2Params
}

// service implements the Service interface.
type service struct {
	db          *sqlx.DB
	eventStore  *eventstore.EventStore
	tokens      *auth.Tokens
	validate    *validator.Validate
	rateLimiter *rate.Limiter
	hashParams  Argon2Params
	tracer      trace.Tracer
}

// NewService creates a new membership service instance.
func NewService(db *sqlx.DB, es *eventstore.EventStore, tokens *auth.Tokens, opts Options) Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), max(opts.Burst, 1))
	}
	params := opts.HashParams
	if params == (Argon2Params{}) {
		params = DefaultArgon2Params
	}

	return &service{
		db:          db,
		eventStore:  es,
		tokens:      tokens,
		validate:    validator.New(),
		rateLimiter: limiter,
		hashParams:  params,
		tracer:      otel.Tracer("cierzo/membership"),
	}
}

// Register creates a guest user and returns its id.
func (s *service) Register(ctx context.Context, req RegisterRequest) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return 0, ErrRateLimited
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" {
		return 0, ErrNameRequired
	}
	if email == "" || strings.TrimSpace(req.Password) == "" {
		return 0, ErrCredentialsRequired
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return 0, ErrInvalidEmail
	}

	passwordHash, err := HashPassword(req.Password, s.hashParams)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO usuarios (id_rol, nombre, correo, contrasenya)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, RoleGuest, name, email, passwordHash).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrEmailInUse
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	event, err := eventstore.NewEvent(EventUserRegistered, UserRegisteredEvent{
		UserID: id,
		Email:  email,
		Name:   name,
		Role:   RoleGuest,
	})
	if err != nil {
		return 0, err
	}
	if err := s.eventStore.AppendEventsTx(ctx, tx.Tx, AggregateID(id), AggregateType, 0, []eventstore.Event{event}); err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", id))
	return id, nil
}

// Login verifies the credentials and issues a session token.
func (s *service) Login(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "membership.login")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	cred, err := loadCredentialByEmail(ctx, s.db, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(cred.PasswordHash) {
		s.rehash(ctx, cred.UserID, password)
	}

	user, err := LoadUser(ctx, s.db, cred.UserID)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &Session{Token: token, User: user}, nil
}

// rehash upgrades a legacy bcrypt hash. Failure only costs the upgrade.
func (s *service) rehash(ctx context.Context, userID int64, password string) {
	hash, err := HashPassword(password, s.hashParams)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("failed to rehash password")
		return
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE usuarios SET contrasenya = $1 WHERE id = $2`, hash, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("failed to store rehashed password")
	}
}

// GetProfile returns the user identified by id.
func (s *service) GetProfile(ctx context.Context, id int64) (*User, error) {
	return LoadUser(ctx, s.db, id)
}

// UpdateProfile applies a partial update to the caller's own profile.
func (s *service) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "membership.update_profile",
		trace.WithAttributes(attribute.Int64("user.id", id)),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := LoadUserForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	var set updateSet

	if upd.Email != nil && strings.TrimSpace(*upd.Email) != "" {
		email := strings.TrimSpace(*upd.Email)
		if err := s.validate.Var(email, "email"); err != nil {
			return nil, ErrInvalidEmail
		}
		var owner int64
		err := tx.GetContext(ctx, &owner, `SELECT id FROM usuarios WHERE correo = $1`, email)
		switch {
		case err == nil && owner != id:
			return nil, ErrEmailInUse
		case err != nil && !isNoRows(err):
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		set.add("correo", email)
	}

	if upd.Name != nil && strings.TrimSpace(*upd.Name) != "" {
		set.add("nombre", strings.TrimSpace(*upd.Name))
	}
	if upd.Surnames != nil {
		set.add("apellidos", *upd.Surnames)
	}
	if upd.Photo != nil {
		set.add("foto", *upd.Photo)
	}
	if upd.Gender != nil {
		if err := s.validate.Var(*upd.Gender, "oneof=Hombre Mujer Otro"); err != nil {
			return nil, ErrInvalidGender
		}
		set.add("genero", *upd.Gender)
	}
	if upd.Phone != nil {
		set.add("telefono", *upd.Phone)
	}

	// Users may sign themselves up as club members; no other role change
	// is possible from the profile.
	roleChanged := false
	if upd.RoleID != nil && current.Role == RoleGuest {
		if r, err := RoleFromID(*upd.RoleID); err == nil && r == RoleMember {
			set.add("id_rol", RoleMember)
			roleChanged = true
		}
	}

	if upd.NewPassword != "" {
		if upd.OldPassword == "" {
			return nil, ErrOldPasswordRequired
		}
		cred, err := LoadCredential(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		ok, err := VerifyPassword(upd.OldPassword, cred.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("verify current password: %w", err)
		}
		if !ok {
			return nil, ErrWrongPassword
		}
		if len(upd.NewPassword) < MinPasswordLength {
			return nil, ErrWeakPassword
		}
		hash, err := HashPassword(upd.NewPassword, s.hashParams)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		set.add("contrasenya", hash)
	}

	if set.empty() {
		return nil, ErrNothingToUpdate
	}

	query, args := set.build("usuarios", id)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if roleChanged {
		if err := s.appendRoleChange(ctx, tx, id, current.Role, RoleMember, "profile"); err != nil {
			return nil, err
		}
	}

	updated, err := LoadUser(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return updated, nil
}

// appendRoleChange records a role change in the event log within tx.
func (s *service) appendRoleChange(ctx context.Context, tx *sqlx.Tx, userID int64, from, to Role, reason string) error {
	aggregateID := AggregateID(userID)
	version, err := s.eventStore.CurrentVersionTx(ctx, tx.Tx, aggregateID)
	if err != nil {
		return err
	}

	event, err := eventstore.NewEvent(EventUserRoleChanged, UserRoleChangedEvent{
		UserID:  userID,
		OldRole: from,
		NewRole: to,
		Reason:  reason,
	})
	if err != nil {
		return err
	}

	if err := s.eventStore.AppendEventsTx(ctx, tx.Tx, aggregateID, AggregateType, version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// updateSet accumulates "column = $n" assignments in insertion order.
type updateSet struct {
	columns []string
	values  []any
}

func (u *updateSet) add(column string, value any) {
	u.columns = append(u.columns, column)
	u.values = append(u.values, value)
}

func (u *updateSet) empty() bool { return len(u.columns) == 0 }

func (u *updateSet) build(table string, id int64) (string, []any) {
	assignments := make([]string, len(u.columns))
	for i, c := range u.columns {
		assignments[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	args := append(append([]any{}, u.values...), id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(assignments, ", "), len(args))
	return query, args
}

// internal/chaos/experiments.go
package chaos

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/clients"
	"github.com/JaviNavarroB/Cierzo/internal/membership"
)

const chaosPassword = "chaos-monkey-pw"

// Workload drives the experiments through the public API and reads the
// steady-state metrics straight from the database.
type Workload struct {
	db          *sqlx.DB
	members     *clients.MembershipClient
	catalog     *clients.CatalogClient
	enrollments *clients.EnrollmentClient

	concurrency int
	duration    time.Duration
	// holdDB is the pool the pool exhaustion experiment takes connections from.
	holdDB *sqlx.DB
	// holdConns is the number of connections the pool exhaustion experiment keeps busy.
	holdConns      int
	acquireTimeout time.Duration
}

type WorkloadOptions struct {
	Concurrency int
	// Duration is how long each experiment is observed.
	Duration  time.Duration
	HoldConns int
	// HoldDB defaults to the workload's own pool.
	HoldDB *sqlx.DB
	// AcquireTimeout bounds each connection checkout while exhausting the pool.
	AcquireTimeout time.Duration
}

func NewWorkload(db *sqlx.DB, members *clients.MembershipClient, catalog *clients.CatalogClient, enrollments *clients.EnrollmentClient, opts WorkloadOptions) *Workload {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 20
	}
	if opts.Duration <= 0 {
		opts.Duration = 30 * time.Second
	}
	if opts.HoldConns <= 0 {
		opts.HoldConns = 50
	}
	if opts.HoldDB == nil {
		opts.HoldDB = db
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}
	return &Workload{
		db:             db,
		members:        members,
		catalog:        catalog,
		enrollments:    enrollments,
		concurrency:    opts.Concurrency,
		duration:       opts.Duration,
		holdDB:         opts.HoldDB,
		holdConns:      opts.HoldConns,
		acquireTimeout: opts.AcquireTimeout,
	}
}

// Experiments returns every enrollment experiment.
func (w *Workload) Experiments() []Experiment {
	return []Experiment{
		w.LastSpotRaceExperiment(3),
		w.DuplicateTeamEnrollmentExperiment(),
		w.PoolExhaustionExperiment(),
	}
}

// Metrics

func (w *Workload) oversubscribedEvents() Metric {
	return Metric{
		Name: "oversubscribed_events",
		Query: func(ctx context.Context) (float64, error) {
			var n int
			err := w.db.GetContext(ctx, &n, `
				SELECT COUNT(*) FROM eventos e
				WHERE e.cupo_total IS NOT NULL
				  AND (SELECT COUNT(*) FROM inscripcion_evento i
				       WHERE i.id_evento = e.id AND i.estado_inscripcion = 'Inscrito') > e.cupo_total
			`)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (w *Workload) duplicateEnrollments() Metric {
	return Metric{
		Name: "duplicate_enrollments",
		Query: func(ctx context.Context) (float64, error) {
			var n int
			err := w.db.GetContext(ctx, &n, `
				SELECT
					(SELECT COUNT(*) FROM (
						SELECT 1 FROM inscripcion_evento WHERE estado_inscripcion = 'Inscrito'
						GROUP BY id_usuario, id_evento HAVING COUNT(*) > 1) d)
					+
					(SELECT COUNT(*) FROM (
						SELECT 1 FROM inscripcion_equipo WHERE estado_inscripcion = 'Inscrito'
						GROUP BY id_usuario, id_equipo HAVING COUNT(*) > 1) d)
			`)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (w *Workload) unpromotedPlayers() Metric {
	return Metric{
		Name: "unpromoted_players",
		Query: func(ctx context.Context) (float64, error) {
			var n int
			err := w.db.GetContext(ctx, &n, `
				SELECT COUNT(DISTINCT u.id) FROM usuarios u
				JOIN inscripcion_equipo i ON i.id_usuario = u.id AND i.estado_inscripcion = 'Inscrito'
				WHERE u.id_rol IN ($1, $2)
			`, membership.RoleGuest, membership.RoleMember)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// catalogOverbooked counts upcoming events the catalog reports with more
// enrollments than capacity.
func (w *Workload) catalogOverbooked() Metric {
	return Metric{
		Name: "catalog_overbooked_events",
		Query: func(ctx context.Context) (float64, error) {
			events, err := w.catalog.ListEvents(ctx, "")
			if err != nil {
				return 0, err
			}
			n := 0
			for _, e := range events {
				if e.Capacity != nil && e.Enrolled > *e.Capacity {
					n++
				}
			}
			return float64(n), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func zero(name, message string) Assertion {
	return Assertion{
		Metric:    name,
		Condition: func(v float64) bool { return v == 0 },
		Message:   message,
	}
}

// LastSpotRaceExperiment has w.concurrency fresh users race for an event
// with capacity spots.
func (w *Workload) LastSpotRaceExperiment(capacity int) Experiment {
	return Experiment{
		Name:       "event-last-spot-race",
		Hypothesis: "Concurrent enrollments never fill an event beyond its capacity",
		SteadyState: []Metric{
			w.oversubscribedEvents(),
			w.catalogOverbooked(),
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "enrollment-service",
				Parameters: map[string]any{
					"concurrency": w.concurrency,
					"capacity":    capacity,
				},
				Execute: func(ctx context.Context) error {
					eventID, err := w.seedEvent(ctx, &capacity)
					if err != nil {
						return err
					}
					users, err := w.newUsers(ctx, w.concurrency)
					if err != nil {
						return err
					}

					var won atomic.Int64
					w.fanOut(len(users), func(i int) {
						_, err := w.enrollments.EnrollEvent(ctx, users[i].token, eventID, chaosPassword)
						switch {
						case err == nil:
							won.Add(1)
						case clients.StatusOf(err) != http.StatusBadRequest:
							log.Warn().Err(err).Int64("user_id", users[i].id).Msg("unexpected enrollment failure")
						}
					})

					if int(won.Load()) != min(capacity, len(users)) {
						return fmt.Errorf("event %d: %d enrollments succeeded, want %d", eventID, won.Load(), min(capacity, len(users)))
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			zero("oversubscribed_events", "No event may hold more enrollments than its capacity"),
			zero("catalog_overbooked_events", "The catalog never reports negative spots"),
		},
		Duration:    w.duration,
		BlastRadius: 0.1,
	}
}

// DuplicateTeamEnrollmentExperiment has every guest send the same team
// enrollment several times at once.
func (w *Workload) DuplicateTeamEnrollmentExperiment() Experiment {
	const repeats = 4

	return Experiment{
		Name:       "duplicate-team-enrollment",
		Hypothesis: "Repeated team enrollments create one enrollment and promote the user once",
		SteadyState: []Metric{
			w.duplicateEnrollments(),
			w.unpromotedPlayers(),
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "enrollment-service",
				Parameters: map[string]any{
					"users":   w.concurrency,
					"repeats": repeats,
				},
				Execute: func(ctx context.Context) error {
					teamID, err := w.seedTeam(ctx)
					if err != nil {
						return err
					}
					users, err := w.newUsers(ctx, w.concurrency)
					if err != nil {
						return err
					}

					wins := make([]atomic.Int64, len(users))
					w.fanOut(len(users)*repeats, func(i int) {
						u := i % len(users)
						res, err := w.enrollments.EnrollTeam(ctx, users[u].token, teamID, chaosPassword)
						switch {
						case err == nil:
							wins[u].Add(1)
							if res.User == nil || res.User.Role != membership.RolePlayer {
								log.Warn().Int64("user_id", users[u].id).Msg("team enrollment did not promote user")
							}
						case clients.StatusOf(err) != http.StatusConflict:
							log.Warn().Err(err).Int64("user_id", users[u].id).Msg("unexpected enrollment failure")
						}
					})

					for u := range wins {
						if n := wins[u].Load(); n != 1 {
							return fmt.Errorf("user %d: %d team enrollments succeeded, want 1", users[u].id, n)
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			zero("duplicate_enrollments", "No user holds two active enrollments in the same team"),
			zero("unpromoted_players", "Every team member is at least a player"),
		},
		Duration:    w.duration,
		BlastRadius: 0.1,
	}
}

// PoolExhaustionExperiment holds database connections while guests join a
// team, then releases them on rollback.
func (w *Workload) PoolExhaustionExperiment() Experiment {
	var (
		mu    sync.Mutex
		held  []*sql.Conn
		users []chaosUser
	)

	release := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range held {
			conn.Close()
		}
		held = nil
		return nil
	}

	return Experiment{
		Name:       "database-connection-pool-exhaustion",
		Hypothesis: "Team enrollments either fail cleanly or promote the user when connections run short",
		SteadyState: []Metric{
			w.unpromotedPlayers(),
			w.duplicateEnrollments(),
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "membership-service",
				Execute: func(ctx context.Context) error {
					var err error
					users, err = w.newUsers(ctx, w.concurrency)
					return err
				},
			},
			{
				Type:   "exhaust-connections",
				Target: "postgres",
				Parameters: map[string]any{
					"connections": w.holdConns,
				},
				Execute: func(ctx context.Context) error {
					conns := w.holdConnections(ctx)
					mu.Lock()
					held = append(held, conns...)
					n := len(held)
					mu.Unlock()
					log.Info().Int("held", n).Msg("holding database connections")
					return nil
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "enrollment-service",
				Execute: func(ctx context.Context) error {
					teamID, err := w.seedTeam(ctx)
					if err != nil {
						return err
					}
					var failed atomic.Int64
					w.fanOut(len(users), func(i int) {
						if _, err := w.enrollments.EnrollTeam(ctx, users[i].token, teamID, chaosPassword); err != nil {
							failed.Add(1)
						}
					})
					if n := failed.Load(); n > 0 {
						log.Info().Int64("failed", n).Msg("team enrollments failed under connection pressure")
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:    "release-connections",
				Target:  "postgres",
				Execute: release,
			},
		},
		Validation: []Assertion{
			zero("unpromoted_players", "A team enrollment never commits without the role promotion"),
			zero("duplicate_enrollments", "No duplicate enrollments appear under connection pressure"),
		},
		Duration:    w.duration,
		BlastRadius: 1.0,
	}
}

// holdConnections checks out up to holdConns connections from the hold
// pool. Each checkout waits at most acquireTimeout. When the hold pool is the
// workload's own capped pool, one connection stays free for the steady-state
// queries.
func (w *Workload) holdConnections(ctx context.Context) []*sql.Conn {
	limit := w.holdConns
	if w.holdDB == w.db {
		stats := w.db.Stats()
		if stats.MaxOpenConnections > 0 {
			limit = min(limit, stats.MaxOpenConnections-stats.InUse-1)
		}
	}

	var held []*sql.Conn
	for range limit {
		acquireCtx, cancel := context.WithTimeout(ctx, w.acquireTimeout)
		conn, err := w.holdDB.Conn(acquireCtx)
		if err == nil {
			if err = conn.PingContext(acquireCtx); err != nil {
				conn.Close()
			}
		}
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("held", len(held)).Msg("stopped taking database connections")
			break
		}
		held = append(held, conn)
	}
	return held
}

// Load helpers

type chaosUser struct {
	id    int64
	token string
}

// newUsers registers and logs in n guests with throwaway emails. Calls
// refused by the rate limiter are retried with backoff.
func (w *Workload) newUsers(ctx context.Context, n int) ([]chaosUser, error) {
	users := make([]chaosUser, 0, n)
	for range n {
		email := fmt.Sprintf("chaos-%s@cierzo.test", uuid.NewString())
		id, err := retryLimited(ctx, func() (int64, error) {
			return w.members.Register(ctx, "Chaos", email, chaosPassword)
		})
		if err != nil {
			return nil, fmt.Errorf("register chaos user: %w", err)
		}
		session, err := retryLimited(ctx, func() (*membership.Session, error) {
			return w.members.Login(ctx, email, chaosPassword)
		})
		if err != nil {
			return nil, fmt.Errorf("login chaos user: %w", err)
		}
		users = append(users, chaosUser{id: id, token: session.Token})
	}
	return users, nil
}

func retryLimited[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && clients.StatusOf(err) != http.StatusTooManyRequests {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
}

// fanOut runs fn(0..n-1) concurrently and waits for all of them.
func (w *Workload) fanOut(n int, fn func(i int)) {
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(i)
		}()
	}
	close(start)
	wg.Wait()
}

// seedEvent creates an open event two weeks ahead.
func (w *Workload) seedEvent(ctx context.Context, capacity *int) (int64, error) {
	var id int64
	err := w.db.GetContext(ctx, &id, `
		INSERT INTO eventos (titulo, fecha, fecha_limite_inscripcion, cupo_total)
		VALUES ($1, CURRENT_DATE + 14, CURRENT_DATE + 7, $2)
		RETURNING id
	`, "Chaos "+uuid.NewString()[:8], capacity)
	if err != nil {
		return 0, fmt.Errorf("seed event: %w", err)
	}
	return id, nil
}

func (w *Workload) seedTeam(ctx context.Context) (int64, error) {
	var id int64
	err := w.db.GetContext(ctx, &id, `
		WITH d AS (
			INSERT INTO deporte (nombre) VALUES ('Chaos') RETURNING id
		)
		INSERT INTO equipos (nombre, id_deporte, nombre_deporte_abv)
		SELECT $1, d.id, 'CHS' FROM d
		RETURNING id
	`, "Chaos "+uuid.NewString()[:8])
	if err != nil {
		return 0, fmt.Errorf("seed team: %w", err)
	}
	return id, nil
}

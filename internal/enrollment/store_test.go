package enrollment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaviNavarroB/Cierzo/internal/membership"
	"github.com/JaviNavarroB/Cierzo/internal/testdb"
	"github.com/JaviNavarroB/Cierzo/pkg/eventstore"
)

func TestPostgresEnrollment(t *testing.T) {
	db := testdb.Open(t)
	es := eventstore.NewEventStore(db.DB)
	svc := newTestService(NewPostgresStore(db, es))
	ctx := context.Background()
	hash := mustHash(t, password)

	t.Run("last spots of an event", func(t *testing.T) {
		event := testdb.Event(t, db, testdb.EventSeed{Date: fixedNow.AddDate(0, 0, 3), Capacity: capacity(2)})
		a := testdb.User(t, db, 2, "a@club.es", hash)
		b := testdb.User(t, db, 2, "b@club.es", hash)
		c := testdb.User(t, db, 2, "c@club.es", hash)

		rec, err := svc.EnrollEvent(ctx, a, event, password)
		require.NoError(t, err)
		assert.Equal(t, a, rec.UserID)
		_, err = svc.EnrollEvent(ctx, b, event, password)
		require.NoError(t, err)
		_, err = svc.EnrollEvent(ctx, c, event, password)
		assert.ErrorIs(t, err, ErrCapacityExceeded)

		_, err = svc.EnrollEvent(ctx, a, event, password)
		assert.ErrorIs(t, err, ErrCapacityExceeded)

		var n int
		require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM inscripcion_evento WHERE id_evento = $1`, event))
		assert.Equal(t, 2, n)

		events, err := es.LoadEvents(ctx, membership.AggregateID(a), 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventEnrollmentCreated, events[0].EventType)
	})

	t.Run("duplicate and past", func(t *testing.T) {
		open := testdb.Event(t, db, testdb.EventSeed{Date: fixedNow.AddDate(0, 1, 0)})
		past := testdb.Event(t, db, testdb.EventSeed{Date: fixedNow.AddDate(0, 0, -2)})
		u := testdb.User(t, db, 1, "d@club.es", hash)

		_, err := svc.EnrollEvent(ctx, u, open, password)
		require.NoError(t, err)
		_, err = svc.EnrollEvent(ctx, u, open, password)
		assert.ErrorIs(t, err, ErrAlreadyEnrolled)
		_, err = svc.EnrollEvent(ctx, u, past, password)
		assert.ErrorIs(t, err, ErrEventExpired)
		_, err = svc.EnrollEvent(ctx, u, open, "otra")
		assert.ErrorIs(t, err, ErrInvalidCredential)
		_, err = svc.EnrollEvent(ctx, u, 999999, password)
		assert.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("guest joins a team", func(t *testing.T) {
		team := testdb.Team(t, db, testdb.Sport(t, db, "Fútbol"), "Alevín")
		guest := testdb.User(t, db, 1, "guest@club.es", hash)

		res, err := svc.EnrollTeam(ctx, guest, team, password)
		require.NoError(t, err)
		assert.Equal(t, membership.RolePlayer, res.User.Role)

		stored, err := membership.LoadUser(ctx, db, guest)
		require.NoError(t, err)
		assert.Equal(t, membership.RolePlayer, stored.Role)

		var n int
		require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM inscripcion_equipo WHERE id_usuario = $1 AND id_equipo = $2`, guest, team))
		assert.Equal(t, 1, n)

		_, err = svc.EnrollTeam(ctx, guest, team, password)
		assert.ErrorIs(t, err, ErrAlreadyEnrolled)
		_, err = svc.EnrollTeam(ctx, guest, 999999, password)
		assert.ErrorIs(t, err, ErrTeamNotFound)

		events, err := es.LoadEvents(ctx, membership.AggregateID(guest), 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, membership.EventUserRoleChanged, events[0].EventType)
		assert.Equal(t, TeamEnrollmentCreated, events[1].EventType)
	})

	t.Run("unique index rejects a second active row", func(t *testing.T) {
		team := testdb.Team(t, db, testdb.Sport(t, db, "Voleibol"), "Juvenil")
		u := testdb.User(t, db, 3, "idx@club.es", hash)

		err := NewPostgresStore(db, es).WithinTx(ctx, func(tx Tx) error {
			rec := &TeamRecord{UserID: u, TeamID: team, Status: StatusEnrolled, CreatedAt: time.Now()}
			rec.ID = uuid.New()
			if err := tx.InsertTeamEnrollment(ctx, rec); err != nil {
				return err
			}
			rec.ID = uuid.New()
			return tx.InsertTeamEnrollment(ctx, rec)
		})
		assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	})

	t.Run("concurrent requests for the last spot", func(t *testing.T) {
		event := testdb.Event(t, db, testdb.EventSeed{Date: fixedNow.AddDate(0, 0, 1), Capacity: capacity(1)})
		const racers = 8
		ids := make([]int64, racers)
		for i := range ids {
			ids[i] = testdb.User(t, db, 2, "racer"+string(rune('a'+i))+"@club.es", hash)
		}

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.EnrollEvent(ctx, id, event, password); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrCapacityExceeded)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, ok)
		var n int
		require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM inscripcion_evento WHERE id_evento = $1`, event))
		assert.Equal(t, 1, n)
	})
}

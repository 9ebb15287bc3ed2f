package enrollment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"pgregory.net/rapid"

	"github.com/JaviNavarroB/Cierzo/internal/catalog"
	"github.com/JaviNavarroB/Cierzo/internal/membership"
	"github.com/JaviNavarroB/Cierzo/pkg/telemetry"
)

var fastHash = membership.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

const password = "secreto"

// fixedNow is 10 June 2025 in Madrid.
var fixedNow = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

func mustHash(t testing.TB, pw string) string {
	t.Helper()
	h, err := membership.HashPassword(pw, fastHash)
	require.NoError(t, err)
	return h
}

func newTestService(store Store) *service {
	madrid, _ := time.LoadLocation("Europe/Madrid")
	svc := NewService(store, madrid).(*service)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func capacity(n int) *int { return &n }

func date(d string) *catalog.Date {
	v := catalog.Date(d)
	return &v
}

func TestEnrollEventChecksInOrder(t *testing.T) {
	hash := mustHash(t, password)

	tests := []struct {
		name     string
		userID   int64
		eventID  int64
		password string
		want     error
	}{
		{"unknown user", 99, 1, password, ErrNotAuthenticated},
		{"anonymous", 0, 1, password, ErrNotAuthenticated},
		{"wrong password", 1, 1, "otra", ErrInvalidCredential},
		{"wrong password beats unknown event", 1, 404, "otra", ErrInvalidCredential},
		{"unknown event", 1, 404, password, ErrEventNotFound},
		{"past event", 1, 2, password, ErrEventExpired},
		{"past and full event is expired", 1, 3, password, ErrEventExpired},
		{"deadline passed", 1, 4, password, ErrRegistrationClosed},
		{"no capacity", 1, 5, password, ErrCapacityExceeded},
		{"open event", 1, 1, password, nil},
		{"deadline today", 1, 6, password, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.addUser(1, membership.RoleGuest, hash)
			store.addEvent(EventSlot{ID: 1, Date: "2025-06-20", Capacity: capacity(10)})
			store.addEvent(EventSlot{ID: 2, Date: "2025-06-09", Capacity: capacity(10)})
			store.addEvent(EventSlot{ID: 3, Date: "2025-06-01", Capacity: capacity(0)})
			store.addEvent(EventSlot{ID: 4, Date: "2025-06-20", Deadline: date("2025-06-09")})
			store.addEvent(EventSlot{ID: 5, Date: "2025-06-20", Capacity: capacity(0)})
			store.addEvent(EventSlot{ID: 6, Date: "2025-06-20", Deadline: date("2025-06-10")})

			rec, err := newTestService(store).EnrollEvent(context.Background(), tt.userID, tt.eventID, tt.password)
			state := store.snapshot()
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Nil(t, rec)
				assert.Empty(t, state.eventRecs)
				assert.Empty(t, state.log)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusEnrolled, rec.Status)
			assert.Equal(t, tt.eventID, rec.EventID)
			assert.Equal(t, fixedNow, rec.CreatedAt)
			assert.Equal(t, []EventRecord{*rec}, state.eventRecs)
			assert.Equal(t, []string{EventEnrollmentCreated}, state.log)
		})
	}
}

func TestEnrollEventUsesClubCalendarDay(t *testing.T) {
	store := newMemStore()
	store.addUser(1, membership.RoleMember, mustHash(t, password))
	store.addEvent(EventSlot{ID: 1, Date: "2025-06-10"})

	svc := newTestService(store)
	// 23:30 UTC on 10 June is already 11 June in Madrid.
	svc.now = func() time.Time { return time.Date(2025, 6, 10, 23, 30, 0, 0, time.UTC) }

	_, err := svc.EnrollEvent(context.Background(), 1, 1, password)
	assert.ErrorIs(t, err, ErrEventExpired)
}

func TestEnrollEventTwiceIsRejected(t *testing.T) {
	store := newMemStore()
	store.addUser(1, membership.RoleMember, mustHash(t, password))
	store.addEvent(EventSlot{ID: 1, Date: "2025-07-01", Capacity: capacity(5)})
	svc := newTestService(store)

	_, err := svc.EnrollEvent(context.Background(), 1, 1, password)
	require.NoError(t, err)

	_, err = svc.EnrollEvent(context.Background(), 1, 1, password)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	assert.Len(t, store.snapshot().eventRecs, 1)
}

func TestEnrollEventLastSpots(t *testing.T) {
	hash := mustHash(t, password)
	store := newMemStore()
	for id := int64(1); id <= 3; id++ {
		store.addUser(id, membership.RoleMember, hash)
	}
	store.addEvent(EventSlot{ID: 7, Date: "2025-07-01", Capacity: capacity(2)})
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.EnrollEvent(ctx, 1, 7, password)
	require.NoError(t, err)
	_, err = svc.EnrollEvent(ctx, 2, 7, password)
	require.NoError(t, err)
	_, err = svc.EnrollEvent(ctx, 3, 7, password)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	assert.Len(t, store.snapshot().eventRecs, 2)
}

func TestEnrollmentAttemptsCounter(t *testing.T) {
	hash := mustHash(t, password)
	store := newMemStore()
	store.addUser(1, membership.RoleMember, hash)
	store.addUser(2, membership.RoleMember, hash)
	store.addEvent(EventSlot{ID: 7, Date: "2025-07-01", Capacity: capacity(1)})

	reader := sdkmetric.NewManualReader()
	madrid, _ := time.LoadLocation("Europe/Madrid")
	svc := newService(store, madrid, telemetry.NewMeterProvider(nil, reader))
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	_, err := svc.EnrollEvent(ctx, 1, 7, password)
	require.NoError(t, err)
	_, err = svc.EnrollEvent(ctx, 2, 7, password)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cierzo.enrollment.attempts" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				kind, _ := dp.Attributes.Value(attribute.Key("kind"))
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				counts[kind.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"event/enrolled": 1, "event/full": 1}, counts)
}

func TestEnrollEventConcurrentRequestsNeverOverbook(t *testing.T) {
	hash := mustHash(t, password)
	store := newMemStore()
	const users = 12
	for id := int64(1); id <= users; id++ {
		store.addUser(id, membership.RoleMember, hash)
	}
	store.addEvent(EventSlot{ID: 1, Date: "2025-07-01", Capacity: capacity(3)})
	svc := newTestService(store)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = map[error]int{}
	)
	for id := int64(1); id <= users; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EnrollEvent(context.Background(), id, 1, password)
			mu.Lock()
			errs[err]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, errs[nil])
	assert.Equal(t, users-3, errs[ErrCapacityExceeded])
	assert.Len(t, store.snapshot().eventRecs, 3)
}

func TestEnrollEventStoreFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.addUser(1, membership.RoleMember, mustHash(t, password))
	store.addEvent(EventSlot{ID: 1, Date: "2025-07-01"})
	store.failOn = "Append"

	_, err := newTestService(store).EnrollEvent(context.Background(), 1, 1, password)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, store.snapshot().eventRecs)
}

func TestEnrollTeamPromotesGuestsAndMembers(t *testing.T) {
	hash := mustHash(t, password)

	tests := []struct {
		role membership.Role
		want membership.Role
	}{
		{membership.RoleGuest, membership.RolePlayer},
		{membership.RoleMember, membership.RolePlayer},
		{membership.RolePlayer, membership.RolePlayer},
		{membership.RoleCoach, membership.RoleCoach},
		{membership.RoleAdmin, membership.RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.role.Name(), func(t *testing.T) {
			store := newMemStore()
			store.addUser(1, tt.role, hash)
			store.addTeam(5)

			res, err := newTestService(store).EnrollTeam(context.Background(), 1, 5, password)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.User.Role)
			assert.Equal(t, int64(5), res.Record.TeamID)
			assert.Equal(t, StatusEnrolled, res.Record.Status)

			state := store.snapshot()
			assert.Equal(t, tt.want, state.users[1].user.Role)
			assert.Len(t, state.teamRecs, 1)
			if tt.role != tt.want {
				assert.Equal(t, []string{membership.EventUserRoleChanged, TeamEnrollmentCreated}, state.log)
			} else {
				assert.Equal(t, []string{TeamEnrollmentCreated}, state.log)
			}
		})
	}
}

func TestEnrollTeamSecondTeamKeepsPlayer(t *testing.T) {
	store := newMemStore()
	store.addUser(1, membership.RoleGuest, mustHash(t, password))
	store.addTeam(5)
	store.addTeam(6)
	svc := newTestService(store)

	res, err := svc.EnrollTeam(context.Background(), 1, 5, password)
	require.NoError(t, err)
	assert.Equal(t, membership.RolePlayer, res.User.Role)

	res, err = svc.EnrollTeam(context.Background(), 1, 6, password)
	require.NoError(t, err)
	assert.Equal(t, membership.RolePlayer, res.User.Role)

	_, err = svc.EnrollTeam(context.Background(), 1, 6, password)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	assert.Len(t, store.snapshot().teamRecs, 2)
}

func TestEnrollTeamFailures(t *testing.T) {
	hash := mustHash(t, password)

	tests := []struct {
		name     string
		userID   int64
		teamID   int64
		password string
		failOn   string
		want     error
	}{
		{"unknown user", 42, 5, password, "", ErrNotAuthenticated},
		{"wrong password", 1, 5, "otra", "", ErrInvalidCredential},
		{"unknown team", 1, 404, password, "", ErrTeamNotFound},
		{"insert fails", 1, 5, password, "InsertTeamEnrollment", ErrPersistence},
		{"promotion fails", 1, 5, password, "SetRole", ErrPersistence},
		{"event log fails", 1, 5, password, "Append", ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.addUser(1, membership.RoleGuest, hash)
			store.addTeam(5)
			store.failOn = tt.failOn

			res, err := newTestService(store).EnrollTeam(context.Background(), tt.userID, tt.teamID, tt.password)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)

			state := store.snapshot()
			assert.Empty(t, state.teamRecs)
			assert.Equal(t, membership.RoleGuest, state.users[1].user.Role)
		})
	}
}

// TestEnrollmentInvariants drives random sequences of enrollments and checks
// the ledger after each step.
func TestEnrollmentInvariants(t *testing.T) {
	hash := mustHash(t, password)

	rapid.Check(t, func(rt *rapid.T) {
		store := newMemStore()
		users := rapid.IntRange(1, 6).Draw(rt, "users")
		for id := 1; id <= users; id++ {
			role := membership.Role(rapid.IntRange(1, 5).Draw(rt, fmt.Sprintf("role%d", id)))
			store.addUser(int64(id), role, hash)
		}
		for id := int64(1); id <= 3; id++ {
			slot := EventSlot{ID: id, Date: catalog.Date(rapid.SampledFrom([]string{"2025-06-09", "2025-06-10", "2025-07-01"}).Draw(rt, "date"))}
			if rapid.Bool().Draw(rt, "limited") {
				slot.Capacity = capacity(rapid.IntRange(0, 4).Draw(rt, "capacity"))
			}
			store.addEvent(slot)
		}
		store.addTeam(1)
		store.addTeam(2)

		svc := newTestService(store)
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			userID := int64(rapid.IntRange(1, users).Draw(rt, "user"))
			pw := rapid.SampledFrom([]string{password, password, "otra"}).Draw(rt, "password")

			if rapid.Bool().Draw(rt, "team") {
				teamID := int64(rapid.IntRange(1, 3).Draw(rt, "teamID"))
				before := store.snapshot()
				res, err := svc.EnrollTeam(context.Background(), userID, teamID, pw)
				after := store.snapshot()
				if err == nil {
					want := before.users[userID].user.Role.AfterTeamJoin()
					if res.User.Role != want || after.users[userID].user.Role != want {
						rt.Fatalf("user %d ended as %v, want %v", userID, res.User.Role, want)
					}
				} else if len(after.teamRecs) != len(before.teamRecs) {
					rt.Fatalf("failed team enrollment changed the ledger: %v", err)
				}
			} else {
				eventID := int64(rapid.IntRange(1, 4).Draw(rt, "eventID"))
				before := store.snapshot()
				_, err := svc.EnrollEvent(context.Background(), userID, eventID, pw)
				after := store.snapshot()
				if err != nil && len(after.eventRecs) != len(before.eventRecs) {
					rt.Fatalf("failed event enrollment changed the ledger: %v", err)
				}
				if err == nil && before.events[eventID].Date.Before("2025-06-10") {
					rt.Fatalf("enrolled in past event %d", eventID)
				}
			}

			checkLedger(rt, store.snapshot())
		}
	})
}

func checkLedger(t *rapid.T, s *memState) {
	perEvent := map[int64]int{}
	seen := map[string]bool{}
	for _, r := range s.eventRecs {
		perEvent[r.EventID]++
		key := fmt.Sprintf("e%d/%d", r.UserID, r.EventID)
		if seen[key] {
			t.Fatalf("duplicate enrollment %s", key)
		}
		seen[key] = true
	}
	for id, n := range perEvent {
		if c := s.events[id].Capacity; c != nil && n > *c {
			t.Fatalf("event %d has %d enrollments for %d spots", id, n, *c)
		}
	}
	for _, r := range s.teamRecs {
		key := fmt.Sprintf("t%d/%d", r.UserID, r.TeamID)
		if seen[key] {
			t.Fatalf("duplicate enrollment %s", key)
		}
		seen[key] = true
		if role := s.users[r.UserID].user.Role; role == membership.RoleGuest || role == membership.RoleMember {
			t.Fatalf("user %d is in team %d but still %v", r.UserID, r.TeamID, role)
		}
	}
}

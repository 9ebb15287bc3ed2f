package enrollment

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/JaviNavarroB/Cierzo/internal/membership"
)

// memStore is an in-memory Store. Transactions run one at a time on a copy
// of the state that replaces it only on success.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// failOn makes the named Tx operation fail inside the next transactions.
	failOn string
}

type memUser struct {
	user membership.User
	hash string
}

type memState struct {
	users     map[int64]memUser
	events    map[int64]EventSlot
	teams     map[int64]bool
	eventRecs []EventRecord
	teamRecs  []TeamRecord
	log       []string
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		users:  map[int64]memUser{},
		events: map[int64]EventSlot{},
		teams:  map[int64]bool{},
	}}
}

func (s *memState) clone() *memState {
	return &memState{
		users:     maps.Clone(s.users),
		events:    maps.Clone(s.events),
		teams:     maps.Clone(s.teams),
		eventRecs: slices.Clone(s.eventRecs),
		teamRecs:  slices.Clone(s.teamRecs),
		log:       slices.Clone(s.log),
	}
}

func (m *memStore) addUser(id int64, role membership.Role, hash string) {
	m.state.users[id] = memUser{user: membership.User{ID: id, Role: role, Name: "user"}, hash: hash}
}

func (m *memStore) addEvent(slot EventSlot) { m.state.events[slot.ID] = slot }

func (m *memStore) addTeam(id int64) { m.state.teams[id] = true }

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) Credential(_ context.Context, userID int64) (*membership.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[userID]
	if !ok {
		return nil, membership.ErrUserNotFound
	}
	return &membership.Credential{UserID: userID, Email: u.user.Email, PasswordHash: u.hash}, nil
}

func (m *memStore) WithinTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work, failOn: m.failOn}); err != nil {
		return err
	}
	m.state = work
	return nil
}

type memTx struct {
	s      *memState
	failOn string
}

type storeFailure string

func (e storeFailure) Error() string { return "injected failure in " + string(e) }

func (t *memTx) fail(op string) error {
	if t.failOn == op {
		return storeFailure(op)
	}
	return nil
}

func (t *memTx) LockUser(_ context.Context, userID int64) (*membership.User, error) {
	if err := t.fail("LockUser"); err != nil {
		return nil, err
	}
	u, ok := t.s.users[userID]
	if !ok {
		return nil, membership.ErrUserNotFound
	}
	user := u.user
	return &user, nil
}

func (t *memTx) LockEvent(_ context.Context, eventID int64) (*EventSlot, error) {
	slot, ok := t.s.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return &slot, nil
}

func (t *memTx) LockTeam(_ context.Context, teamID int64) error {
	if !t.s.teams[teamID] {
		return ErrTeamNotFound
	}
	return nil
}

func (t *memTx) CountEventEnrollments(_ context.Context, eventID int64) (int, error) {
	n := 0
	for _, r := range t.s.eventRecs {
		if r.EventID == eventID && r.Status == StatusEnrolled {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasEventEnrollment(_ context.Context, userID, eventID int64) (bool, error) {
	return slices.ContainsFunc(t.s.eventRecs, func(r EventRecord) bool {
		return r.UserID == userID && r.EventID == eventID && r.Status == StatusEnrolled
	}), nil
}

func (t *memTx) HasTeamEnrollment(_ context.Context, userID, teamID int64) (bool, error) {
	return slices.ContainsFunc(t.s.teamRecs, func(r TeamRecord) bool {
		return r.UserID == userID && r.TeamID == teamID && r.Status == StatusEnrolled
	}), nil
}

func (t *memTx) InsertEventEnrollment(ctx context.Context, rec *EventRecord) error {
	if err := t.fail("InsertEventEnrollment"); err != nil {
		return err
	}
	if dup, _ := t.HasEventEnrollment(ctx, rec.UserID, rec.EventID); dup {
		return ErrAlreadyEnrolled
	}
	t.s.eventRecs = append(t.s.eventRecs, *rec)
	return nil
}

func (t *memTx) InsertTeamEnrollment(ctx context.Context, rec *TeamRecord) error {
	if err := t.fail("InsertTeamEnrollment"); err != nil {
		return err
	}
	if dup, _ := t.HasTeamEnrollment(ctx, rec.UserID, rec.TeamID); dup {
		return ErrAlreadyEnrolled
	}
	t.s.teamRecs = append(t.s.teamRecs, *rec)
	return nil
}

func (t *memTx) SetRole(_ context.Context, userID int64, role membership.Role) error {
	if err := t.fail("SetRole"); err != nil {
		return err
	}
	u := t.s.users[userID]
	u.user.Role = role
	t.s.users[userID] = u
	return nil
}

func (t *memTx) Append(_ context.Context, _ int64, eventType string, _ any) error {
	if err := t.fail("Append"); err != nil {
		return err
	}
	t.s.log = append(t.s.log, eventType)
	return nil
}

package sequences

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/app/repository"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/entitlements"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/mail"
)

type memStore struct {
	mu      sync.Mutex
	nextID  uint
	records map[uint]*models.SequenceRecord
	// foreignClaims simulates rows another run holds.
	foreignClaims map[uint]bool
	saveErr       error
	// onLatestStart runs before LatestStart reads, outside the lock.
	onLatestStart func()
}

func newMemStore() *memStore {
	return &memStore{records: map[uint]*models.SequenceRecord{}, foreignClaims: map[uint]bool{}}
}

func (m *memStore) Create(_ context.Context, rec *models.SequenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.IsOpen() {
		for _, r := range m.records {
			if r.UserID == rec.UserID && r.IsOpen() {
				return repository.ErrOpenSequence
			}
		}
	}
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]models.SequenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SequenceRecord
	for _, r := range m.records {
		if r.IsDueAt(now) && (r.ClaimedUntil == nil || r.ClaimedUntil.Before(now)) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Claim(_ context.Context, id uint, token string, until, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.foreignClaims[id] {
		return false, nil
	}
	r := m.records[id]
	if r == nil || r.Completed || r.Paused || (r.ClaimedUntil != nil && !r.ClaimedUntil.Before(now)) {
		return false, nil
	}
	r.ClaimToken = token
	r.ClaimedUntil = &until
	return true, nil
}

func (m *memStore) Save(_ context.Context, rec *models.SequenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *rec
	cp.ClaimToken = ""
	cp.ClaimedUntil = nil
	m.records[rec.ID] = &cp
	return nil
}

func (m *memStore) LatestStart(_ context.Context, userID uint, name models.SequenceName) (*time.Time, error) {
	if m.onLatestStart != nil {
		m.onLatestStart()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, r := range m.records {
		if r.UserID == userID && r.SequenceName == name && (latest == nil || r.StartedAt.After(*latest)) {
			t := r.StartedAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *memStore) ListByUser(_ context.Context, userID uint) ([]models.SequenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SequenceRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) get(id uint) models.SequenceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[id]
}

type memUsers struct {
	users map[uint]*models.User
}

func (u *memUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	return u.users[id], nil
}

func (u *memUsers) list(filter func(*models.User) bool, afterID uint, limit int) []models.User {
	var ids []uint
	for id := range u.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []models.User
	for _, id := range ids {
		usr := u.users[id]
		if id > afterID && filter(usr) {
			out = append(out, *usr)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func (u *memUsers) ListInactiveSince(_ context.Context, cutoff time.Time, afterID uint, limit int) ([]models.User, error) {
	return u.list(func(usr *models.User) bool {
		last := usr.CreatedAt
		if usr.LastActiveAt != nil {
			last = *usr.LastActiveAt
		}
		return last.Before(cutoff) && !usr.EmailOptOut
	}, afterID, limit), nil
}

func (u *memUsers) ListCreatedSince(_ context.Context, since time.Time, afterID uint, limit int) ([]models.User, error) {
	return u.list(func(usr *models.User) bool { return !usr.CreatedAt.Before(since) }, afterID, limit), nil
}

type stubResolver struct {
	mu   sync.Mutex
	res  map[uint]entitlements.Resolution
	errs map[uint]error
}

func (s *stubResolver) Resolve(_ context.Context, userID uint, _ time.Time) (entitlements.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[userID]; err != nil {
		return entitlements.Free(), err
	}
	if r, ok := s.res[userID]; ok {
		return r, nil
	}
	return entitlements.Free(), nil
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	// failures queued per recipient, consumed in order
	failures map[string][]error
	calls    []time.Time
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, time.Now())
	if q := f.failures[to]; len(q) > 0 {
		f.failures[to] = q[1:]
		return q[0]
	}
	f.sent = append(f.sent, sentMessage{To: to, Subject: subject, Body: body})
	return nil
}

var (
	errTransient = errors.New("smtp send: 421 try again later")
	errPermanent = mail.ErrPermanent
)

type memSendLog struct {
	mu      sync.Mutex
	entries []models.SequenceSendLog
}

func (l *memSendLog) LogSend(_ context.Context, entry *models.SequenceSendLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
	return nil
}

type staticRenderer struct {
	missing map[string]bool
}

func (r staticRenderer) Render(templateID string, data TemplateData) (string, bool, error) {
	if r.missing[templateID] {
		return "", false, nil
	}
	return templateID + " for " + data.FirstName, true, nil
}

package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"medtrack/internal/medication"
	logx "medtrack/pkg/logx"
)

// memStore keeps everything in maps guarded by one mutex.
// When disk is set every mutation is persisted before the lock is released.
type memStore struct {
	log logx.Logger
	now func() time.Time

	mu     sync.Mutex
	meds   map[string]medication.Medication
	doses  map[string][]DoseLogEntry
	disk   *fileBacking
	closed bool
}

func newMemory(log logx.Logger) *memStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &memStore{
		log:   log,
		now:   time.Now,
		meds:  map[string]medication.Medication{},
		doses: map[string][]DoseLogEntry{},
	}
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.disk != nil {
		err := s.disk.close()
		s.disk = nil
		return err
	}
	return nil
}

func (s *memStore) Ping(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	return nil
}

func (s *memStore) List(ctx context.Context) ([]medication.Medication, error) {
	return s.list(ctx, false)
}

func (s *memStore) ListSchedulable(ctx context.Context) ([]medication.Medication, error) {
	return s.list(ctx, true)
}

func (s *memStore) list(ctx context.Context, schedulable bool) ([]medication.Medication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	out := make([]medication.Medication, 0, len(s.meds))
	for _, m := range s.meds {
		if schedulable && !m.Schedulable() {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Get(ctx context.Context, id string) (medication.Medication, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return medication.Medication{}, ErrDisabled
	}
	m, ok := s.meds[id]
	if !ok {
		return medication.Medication{}, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *memStore) Create(ctx context.Context, m medication.Medication) (medication.Medication, error) {
	_ = ctx
	m, err := prepareNew(m, s.now(), newID)
	if err != nil {
		return medication.Medication{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return medication.Medication{}, ErrDisabled
	}
	if _, dup := s.meds[m.ID]; dup {
		return medication.Medication{}, errors.Join(ErrInvalid, errors.New("duplicate id "+m.ID))
	}
	s.meds[m.ID] = m.Clone()
	if err := s.persistLocked(); err != nil {
		delete(s.meds, m.ID)
		return medication.Medication{}, err
	}
	return m, nil
}

func (s *memStore) Update(ctx context.Context, id string, e Edit) (medication.Medication, error) {
	_ = ctx
	if err := e.validate(); err != nil {
		return medication.Medication{}, err
	}
	return s.mutate(id, func(m medication.Medication) medication.Medication { return e.apply(m) })
}

func (s *memStore) SetQuantityLeft(ctx context.Context, id string, n int) (medication.Medication, error) {
	_ = ctx
	if err := validateQuantityLeft(n); err != nil {
		return medication.Medication{}, err
	}
	return s.mutate(id, func(m medication.Medication) medication.Medication {
		m.QuantityLeft = n
		return m
	})
}

// mutate applies fn to id under the lock and persists, restoring the old
// record if the snapshot write fails.
func (s *memStore) mutate(id string, fn func(medication.Medication) medication.Medication) (medication.Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return medication.Medication{}, ErrDisabled
	}
	m, ok := s.meds[id]
	if !ok {
		return medication.Medication{}, ErrNotFound
	}
	old := m.Clone()
	m = fn(m)
	m.UpdatedAt = s.now()
	s.meds[id] = m
	if err := s.persistLocked(); err != nil {
		s.meds[id] = old
		return medication.Medication{}, err
	}
	return m.Clone(), nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	old, ok := s.meds[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.meds, id)
	if err := s.persistLocked(); err != nil {
		s.meds[id] = old
		return err
	}
	return nil
}

func (s *memStore) CommitDose(ctx context.Context, id string, expected, next int, sentAt time.Time) (bool, error) {
	if err := validateCommit(expected, next); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrDisabled
	}
	m, ok := s.meds[id]
	if !ok || m.QuantityLeft != expected {
		return false, nil
	}
	old := m.Clone()
	m.QuantityLeft = next
	m.LastNotificationSentAt = medication.TimePtr(sentAt)
	m.UpdatedAt = s.now()
	s.meds[id] = m
	if err := s.persistLocked(); err != nil {
		s.meds[id] = old
		return false, err
	}
	return true, nil
}

func (s *memStore) MarkTaken(ctx context.Context, id string, taken bool, at time.Time) (medication.Medication, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return medication.Medication{}, ErrDisabled
	}
	m, ok := s.meds[id]
	if !ok {
		return medication.Medication{}, ErrNotFound
	}
	old := m.Clone()
	m.TakenToday = taken
	if taken {
		m.LastTakenAt = medication.TimePtr(at)
		if m.QuantityLeft > 0 {
			m.QuantityLeft--
		}
	}
	m.UpdatedAt = s.now()
	s.meds[id] = m
	if err := s.persistLocked(); err != nil {
		s.meds[id] = old
		return medication.Medication{}, err
	}
	return m.Clone(), nil
}

func (s *memStore) AppendDoseLog(ctx context.Context, e DoseLogEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if s.disk != nil {
		if err := s.disk.appendDose(e); err != nil {
			return err
		}
	}
	s.doses[e.MedicationID] = append(s.doses[e.MedicationID], e)
	return nil
}

func (s *memStore) RecentDoseLog(ctx context.Context, id string, limit int) ([]DoseLogEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	all := s.doses[id]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]DoseLogEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *memStore) persistLocked() error {
	if s.disk == nil {
		return nil
	}
	return s.disk.writeSnapshot(s.meds)
}

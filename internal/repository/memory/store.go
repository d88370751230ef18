// Package memory is an in-process repository.Store. It honours transactions
// by serialising them and restoring a snapshot on error, and it enforces the
// same version checks and uniqueness keys as the postgres store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

type dayKey struct {
	protocolID uuid.UUID
	day        int
}

type followUpKey struct {
	protocolID   uuid.UUID
	followUpType string
}

type checkInKey struct {
	patientID uuid.UUID
	date      time.Time
}

type injected struct {
	err   error
	times int
}

type state struct {
	patients  map[uuid.UUID]*model.Patient
	protocols map[uuid.UUID]*model.Protocol
	logs      map[uuid.UUID]*model.ProtocolLog
	days      map[dayKey]*model.DayEntry
	purchases map[uuid.UUID]*model.Purchase
	templates map[uuid.UUID]*model.JourneyTemplate
	events    []*model.JourneyEvent
	followUps map[followUpKey]*model.FollowUpLab
	checkIns  map[checkInKey]*model.CheckIn
	outbox    []*model.OutboxEvent
}

type data struct {
	mu       sync.Mutex
	st       *state
	failures map[string]*injected
}

// Store implements repository.Store in memory.
type Store struct {
	d    *data
	inTx bool
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{d: &data{st: newState(), failures: map[string]*injected{}}}
}

func newState() *state {
	return &state{
		patients:  map[uuid.UUID]*model.Patient{},
		protocols: map[uuid.UUID]*model.Protocol{},
		logs:      map[uuid.UUID]*model.ProtocolLog{},
		days:      map[dayKey]*model.DayEntry{},
		purchases: map[uuid.UUID]*model.Purchase{},
		templates: map[uuid.UUID]*model.JourneyTemplate{},
		followUps: map[followUpKey]*model.FollowUpLab{},
		checkIns:  map[checkInKey]*model.CheckIn{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.patients {
		p := *v
		c.patients[k] = &p
	}
	for k, v := range st.protocols {
		c.protocols[k] = v.Clone()
	}
	for k, v := range st.logs {
		l := *v
		c.logs[k] = &l
	}
	for k, v := range st.days {
		e := *v
		c.days[k] = &e
	}
	for k, v := range st.purchases {
		p := *v
		c.purchases[k] = &p
	}
	for k, v := range st.templates {
		c.templates[k] = v.Clone()
	}
	for _, v := range st.events {
		e := *v
		c.events = append(c.events, &e)
	}
	for k, v := range st.followUps {
		f := *v
		c.followUps[k] = &f
	}
	for k, v := range st.checkIns {
		ci := *v
		c.checkIns[k] = &ci
	}
	for _, v := range st.outbox {
		e := *v
		c.outbox = append(c.outbox, &e)
	}
	return c
}

// lock returns the matching unlock. Transaction-bound stores already hold
// the mutex.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.d.mu.Lock()
	return s.d.mu.Unlock
}

// WithTx runs fn while holding the store lock and rolls back to a snapshot
// when fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	snapshot := s.d.st.clone()
	tx := &Store{d: s.d, inTx: true}

	rollback := true
	defer func() {
		if rollback {
			s.d.st = snapshot
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	rollback = false
	return nil
}

// InjectFailure makes the named operation return err. times <= 0 fails every
// call; otherwise the failure clears after that many calls. Operation names
// are "<repository>.<method>", for example "journey_events.create".
func (s *Store) InjectFailure(op string, err error, times int) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.failures[op] = &injected{err: err, times: times}
}

func (s *Store) ClearFailures() {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.failures = map[string]*injected{}
}

// fail must be called with the lock held.
func (s *Store) fail(op string) error {
	f, ok := s.d.failures[op]
	if !ok {
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(s.d.failures, op)
		}
	}
	return f.err
}

// OutboxEvents returns a copy of every emitted event, oldest first.
func (s *Store) OutboxEvents() []*model.OutboxEvent {
	defer s.lock()()
	out := make([]*model.OutboxEvent, 0, len(s.d.st.outbox))
	for _, e := range s.d.st.outbox {
		c := *e
		out = append(out, &c)
	}
	return out
}

func (s *Store) Patients() repository.PatientRepository { return patientRepo{s} }
func (s *Store) Protocols() repository.ProtocolRepository { return protocolRepo{s} }
func (s *Store) Logs() repository.ProtocolLogRepository { return logRepo{s} }
func (s *Store) DayEntries() repository.DayEntryRepository { return dayEntryRepo{s} }
func (s *Store) Purchases() repository.PurchaseRepository { return purchaseRepo{s} }
func (s *Store) Templates() repository.JourneyTemplateRepository { return templateRepo{s} }
func (s *Store) JourneyEvents() repository.JourneyEventRepository { return journeyEventRepo{s} }
func (s *Store) FollowUps() repository.FollowUpRepository { return followUpRepo{s} }
func (s *Store) CheckIns() repository.CheckInRepository { return checkInRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository { return outboxRepo{s} }

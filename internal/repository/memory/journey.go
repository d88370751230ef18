package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

type templateRepo struct{ s *Store }

func (r templateRepo) Create(ctx context.Context, template *model.JourneyTemplate) error {
	defer r.s.lock()()
	if err := r.s.fail("templates.create"); err != nil {
		return err
	}
	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	if template.Version == 0 {
		template.Version = 1
	}
	if r.s.otherDefault(template) {
		return repository.ErrDuplicate
	}
	now := time.Now().UTC()
	template.CreatedAt, template.UpdatedAt = now, now
	r.s.d.st.templates[template.ID] = template.Clone()
	return nil
}

// otherDefault mirrors the partial unique index on (program_type) WHERE is_default.
func (s *Store) otherDefault(t *model.JourneyTemplate) bool {
	if !t.IsDefault {
		return false
	}
	for id, other := range s.d.st.templates {
		if id != t.ID && other.ProgramType == t.ProgramType && other.IsDefault {
			return true
		}
	}
	return false
}

func (r templateRepo) Get(ctx context.Context, id uuid.UUID) (*model.JourneyTemplate, error) {
	defer r.s.lock()()
	t, ok := r.s.d.st.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.Clone(), nil
}

func (r templateRepo) Update(ctx context.Context, template *model.JourneyTemplate) error {
	defer r.s.lock()()
	if err := r.s.fail("templates.update"); err != nil {
		return err
	}
	stored, ok := r.s.d.st.templates[template.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.s.otherDefault(template) {
		return repository.ErrDuplicate
	}
	template.ProgramType = stored.ProgramType
	template.CreatedAt = stored.CreatedAt
	template.Version = stored.Version + 1
	template.UpdatedAt = time.Now().UTC()
	r.s.d.st.templates[template.ID] = template.Clone()
	return nil
}

func (r templateRepo) List(ctx context.Context, programType *model.ProgramType) ([]*model.JourneyTemplate, error) {
	defer r.s.lock()()
	var out []*model.JourneyTemplate
	for _, t := range r.s.d.st.templates {
		if programType != nil && t.ProgramType != *programType {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProgramType != out[j].ProgramType {
			return out[i].ProgramType < out[j].ProgramType
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r templateRepo) GetDefault(ctx context.Context, programType model.ProgramType) (*model.JourneyTemplate, error) {
	defer r.s.lock()()
	for _, t := range r.s.d.st.templates {
		if t.ProgramType == programType && t.IsDefault {
			return t.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r templateRepo) ClearDefault(ctx context.Context, programType model.ProgramType, keep uuid.UUID) error {
	defer r.s.lock()()
	if err := r.s.fail("templates.clear_default"); err != nil {
		return err
	}
	for id, t := range r.s.d.st.templates {
		if t.ProgramType == programType && t.IsDefault && id != keep {
			c := t.Clone()
			c.IsDefault = false
			c.UpdatedAt = time.Now().UTC()
			r.s.d.st.templates[id] = c
		}
	}
	return nil
}

type journeyEventRepo struct{ s *Store }

func (r journeyEventRepo) Create(ctx context.Context, event *model.JourneyEvent) error {
	defer r.s.lock()()
	if err := r.s.fail("journey_events.create"); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	c := *event
	r.s.d.st.events = append(r.s.d.st.events, &c)
	return nil
}

func (r journeyEventRepo) ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.JourneyEvent, error) {
	defer r.s.lock()()
	var out []*model.JourneyEvent
	for i := len(r.s.d.st.events) - 1; i >= 0; i-- {
		if e := r.s.d.st.events[i]; e.ProtocolID == protocolID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r journeyEventRepo) LatestForStage(ctx context.Context, protocolID uuid.UUID, stage string) (*model.JourneyEvent, error) {
	defer r.s.lock()()
	for i := len(r.s.d.st.events) - 1; i >= 0; i-- {
		e := r.s.d.st.events[i]
		if e.ProtocolID == protocolID && e.NewStage == stage {
			c := *e
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r journeyEventRepo) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	defer r.s.lock()()
	kept := r.s.d.st.events[:0:0]
	for _, e := range r.s.d.st.events {
		if e.ProtocolID != protocolID {
			kept = append(kept, e)
		}
	}
	r.s.d.st.events = kept
	return nil
}

type followUpRepo struct{ s *Store }

func (r followUpRepo) GetByType(ctx context.Context, protocolID uuid.UUID, followUpType string) (*model.FollowUpLab, error) {
	defer r.s.lock()()
	f, ok := r.s.d.st.followUps[followUpKey{protocolID, followUpType}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (r followUpRepo) CreateIfAbsent(ctx context.Context, lab *model.FollowUpLab) (bool, error) {
	defer r.s.lock()()
	if err := r.s.fail("follow_ups.create"); err != nil {
		return false, err
	}
	key := followUpKey{lab.ProtocolID, lab.FollowUpType}
	if _, ok := r.s.d.st.followUps[key]; ok {
		return false, nil
	}
	if lab.ID == uuid.Nil {
		lab.ID = uuid.New()
	}
	lab.CreatedAt = time.Now().UTC()
	c := *lab
	r.s.d.st.followUps[key] = &c
	return true, nil
}

func (r followUpRepo) ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.FollowUpLab, error) {
	defer r.s.lock()()
	var out []*model.FollowUpLab
	for k, f := range r.s.d.st.followUps {
		if k.protocolID == protocolID {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FollowUpNumber < out[j].FollowUpNumber })
	return out, nil
}

func (r followUpRepo) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	defer r.s.lock()()
	for k := range r.s.d.st.followUps {
		if k.protocolID == protocolID {
			delete(r.s.d.st.followUps, k)
		}
	}
	return nil
}

type checkInRepo struct{ s *Store }

func (r checkInRepo) Upsert(ctx context.Context, checkIn *model.CheckIn) error {
	defer r.s.lock()()
	if err := r.s.fail("check_ins.upsert"); err != nil {
		return err
	}
	checkIn.CheckInDate = model.DateOf(checkIn.CheckInDate)
	key := checkInKey{checkIn.PatientID, checkIn.CheckInDate}
	now := time.Now().UTC()
	if existing, ok := r.s.d.st.checkIns[key]; ok {
		checkIn.ID = existing.ID
		checkIn.CreatedAt = existing.CreatedAt
	} else {
		if checkIn.ID == uuid.Nil {
			checkIn.ID = uuid.New()
		}
		checkIn.CreatedAt = now
	}
	checkIn.UpdatedAt = now
	c := *checkIn
	r.s.d.st.checkIns[key] = &c
	return nil
}

func (r checkInRepo) Get(ctx context.Context, patientID uuid.UUID, date time.Time) (*model.CheckIn, error) {
	defer r.s.lock()()
	ci, ok := r.s.d.st.checkIns[checkInKey{patientID, model.DateOf(date)}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *ci
	return &c, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	defer r.s.lock()()
	if err := r.s.fail("outbox.create"); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now().UTC()
	event.CreatedAt, event.UpdatedAt = now, now
	event.Status = model.OutboxStatusPending
	c := *event
	r.s.d.st.outbox = append(r.s.d.st.outbox, &c)
	return nil
}

func (r outboxRepo) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	defer r.s.lock()()
	var out []*model.OutboxEvent
	for _, e := range r.s.d.st.outbox {
		if len(out) == limit {
			break
		}
		if e.Status == model.OutboxStatusPending {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r outboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	defer r.s.lock()()
	if err := r.s.fail("outbox.update_status"); err != nil {
		return err
	}
	for i, e := range r.s.d.st.outbox {
		if e.ID != id {
			continue
		}
		c := *e
		c.Status = status
		c.ErrorMessage = errMsg
		c.UpdatedAt = time.Now().UTC()
		if status == model.OutboxStatusProcessed {
			at := c.UpdatedAt
			c.ProcessedAt = &at
		}
		if status == model.OutboxStatusFailed {
			c.RetryCount++
		}
		r.s.d.st.outbox[i] = &c
		return nil
	}
	return repository.ErrNotFound
}

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

type patientRepo struct{ s *Store }

func (r patientRepo) Create(ctx context.Context, patient *model.Patient) error {
	defer r.s.lock()()
	if err := r.s.fail("patients.create"); err != nil {
		return err
	}
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	now := time.Now().UTC()
	patient.CreatedAt, patient.UpdatedAt = now, now
	c := *patient
	r.s.d.st.patients[patient.ID] = &c
	return nil
}

func (r patientRepo) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	defer r.s.lock()()
	if err := r.s.fail("patients.get"); err != nil {
		return nil, err
	}
	p, ok := r.s.d.st.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r patientRepo) GetByCRMContactID(ctx context.Context, contactID string) (*model.Patient, error) {
	defer r.s.lock()()
	for _, p := range r.s.d.st.patients {
		if p.CRMContactID != nil && *p.CRMContactID == contactID {
			c := *p
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

type protocolRepo struct{ s *Store }

func (r protocolRepo) Create(ctx context.Context, protocol *model.Protocol) error {
	defer r.s.lock()()
	if err := r.s.fail("protocols.create"); err != nil {
		return err
	}
	if protocol.ID == uuid.Nil {
		protocol.ID = uuid.New()
	}
	if protocol.Version == 0 {
		protocol.Version = 1
	}
	now := time.Now().UTC()
	protocol.CreatedAt, protocol.UpdatedAt = now, now
	r.s.d.st.protocols[protocol.ID] = protocol.Clone()
	return nil
}

func (r protocolRepo) Get(ctx context.Context, id uuid.UUID) (*model.Protocol, error) {
	defer r.s.lock()()
	if err := r.s.fail("protocols.get"); err != nil {
		return nil, err
	}
	p, ok := r.s.d.st.protocols[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

func (r protocolRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, filter model.ProtocolFilter) ([]*model.Protocol, error) {
	defer r.s.lock()()
	var out []*model.Protocol
	for _, p := range r.s.d.st.protocols {
		if p.PatientID != patientID {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.ProgramType != nil && p.ProgramType != *filter.ProgramType {
			continue
		}
		out = append(out, p.Clone())
	}
	sortProtocols(out)
	return out, nil
}

func (r protocolRepo) ListJourneyCandidates(ctx context.Context) ([]*model.Protocol, error) {
	defer r.s.lock()()
	var out []*model.Protocol
	for _, p := range r.s.d.st.protocols {
		if p.Status == model.ProtocolStatusActive && p.JourneyTemplateID != nil && p.CurrentJourneyStage != nil {
			out = append(out, p.Clone())
		}
	}
	sortProtocols(out)
	return out, nil
}

func (r protocolRepo) UpdateCounters(ctx context.Context, protocol *model.Protocol, expectedVersion int) error {
	defer r.s.lock()()
	if err := r.s.fail("protocols.update_counters"); err != nil {
		return err
	}
	stored, ok := r.s.d.st.protocols[protocol.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrStaleVersion
	}

	protocol.Version = expectedVersion + 1
	protocol.UpdatedAt = time.Now().UTC()

	next := stored.Clone()
	in := protocol.Clone()
	next.TotalSessions = in.TotalSessions
	next.SessionsUsed = in.SessionsUsed
	next.Status = in.Status
	next.StartDate = in.StartDate
	next.EndDate = in.EndDate
	next.Notes = in.Notes
	next.Version = in.Version
	next.UpdatedAt = in.UpdatedAt
	r.s.d.st.protocols[protocol.ID] = next
	return nil
}

func (r protocolRepo) UpdateJourney(ctx context.Context, id uuid.UUID, stage *string, templateID *uuid.UUID) (*model.Protocol, error) {
	defer r.s.lock()()
	if err := r.s.fail("protocols.update_journey"); err != nil {
		return nil, err
	}
	stored, ok := r.s.d.st.protocols[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := stored.Clone()
	if stage != nil {
		s := *stage
		next.CurrentJourneyStage = &s
	} else {
		next.CurrentJourneyStage = nil
	}
	if templateID != nil {
		t := *templateID
		next.JourneyTemplateID = &t
	} else {
		next.JourneyTemplateID = nil
	}
	next.UpdatedAt = time.Now().UTC()
	r.s.d.st.protocols[id] = next
	return next.Clone(), nil
}

func (r protocolRepo) CompleteExpired(ctx context.Context, cutoff time.Time, excluded []model.ProgramType, now time.Time) ([]*model.Protocol, error) {
	defer r.s.lock()()
	if err := r.s.fail("protocols.complete_expired"); err != nil {
		return nil, err
	}
	skip := make(map[model.ProgramType]bool, len(excluded))
	for _, pt := range excluded {
		skip[pt] = true
	}
	cutoff = model.DateOf(cutoff)

	var out []*model.Protocol
	for id, p := range r.s.d.st.protocols {
		if p.Status != model.ProtocolStatusActive || p.EndDate == nil || skip[p.ProgramType] {
			continue
		}
		if model.DateOf(*p.EndDate).After(cutoff) {
			continue
		}
		next := p.Clone()
		next.Status = model.ProtocolStatusCompleted
		next.UpdatedAt = now
		next.Version++
		r.s.d.st.protocols[id] = next
		out = append(out, next.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndDate.Equal(*out[j].EndDate) {
			return out[i].EndDate.Before(*out[j].EndDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r protocolRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if _, ok := r.s.d.st.protocols[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.d.st.protocols, id)
	return nil
}

func sortProtocols(ps []*model.Protocol) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID.String() < ps[j].ID.String()
	})
}

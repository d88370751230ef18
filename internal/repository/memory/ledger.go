package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
)

type logRepo struct{ s *Store }

func (r logRepo) Create(ctx context.Context, log *model.ProtocolLog) error {
	defer r.s.lock()()
	if err := r.s.fail("logs.create"); err != nil {
		return err
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now().UTC()
	c := *log
	r.s.d.st.logs[log.ID] = &c
	return nil
}

func (r logRepo) Get(ctx context.Context, id uuid.UUID) (*model.ProtocolLog, error) {
	defer r.s.lock()()
	l, ok := r.s.d.st.logs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *l
	return &c, nil
}

func (r logRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if err := r.s.fail("logs.delete"); err != nil {
		return err
	}
	if _, ok := r.s.d.st.logs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.d.st.logs, id)
	return nil
}

func (r logRepo) ListByProtocol(ctx context.Context, protocolID uuid.UUID) ([]*model.ProtocolLog, error) {
	defer r.s.lock()()
	var out []*model.ProtocolLog
	for _, l := range r.s.d.st.logs {
		if l.ProtocolID == protocolID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LogDate.Equal(out[j].LogDate) {
			return out[i].LogDate.After(out[j].LogDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r logRepo) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	defer r.s.lock()()
	for id, l := range r.s.d.st.logs {
		if l.ProtocolID == protocolID {
			delete(r.s.d.st.logs, id)
		}
	}
	return nil
}

type dayEntryRepo struct{ s *Store }

func (r dayEntryRepo) Get(ctx context.Context, protocolID uuid.UUID, dayNumber int) (*model.DayEntry, error) {
	defer r.s.lock()()
	e, ok := r.s.d.st.days[dayKey{protocolID, dayNumber}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (r dayEntryRepo) Upsert(ctx context.Context, entry *model.DayEntry) error {
	defer r.s.lock()()
	if err := r.s.fail("day_entries.upsert"); err != nil {
		return err
	}
	key := dayKey{entry.ProtocolID, entry.DayNumber}
	now := time.Now().UTC()
	if existing, ok := r.s.d.st.days[key]; ok {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	} else {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	c := *entry
	r.s.d.st.days[key] = &c
	return nil
}

func (r dayEntryRepo) CountCompleted(ctx context.Context, protocolID uuid.UUID) (int, error) {
	defer r.s.lock()()
	n := 0
	for k, e := range r.s.d.st.days {
		if k.protocolID == protocolID && e.Completed {
			n++
		}
	}
	return n, nil
}

func (r dayEntryRepo) DeleteByProtocol(ctx context.Context, protocolID uuid.UUID) error {
	defer r.s.lock()()
	for k := range r.s.d.st.days {
		if k.protocolID == protocolID {
			delete(r.s.d.st.days, k)
		}
	}
	return nil
}

type purchaseRepo struct{ s *Store }

func (r purchaseRepo) Create(ctx context.Context, purchase *model.Purchase) error {
	defer r.s.lock()()
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	purchase.CreatedAt = time.Now().UTC()
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = purchase.CreatedAt
	}
	c := *purchase
	r.s.d.st.purchases[purchase.ID] = &c
	return nil
}

func (r purchaseRepo) Get(ctx context.Context, id uuid.UUID) (*model.Purchase, error) {
	defer r.s.lock()()
	p, ok := r.s.d.st.purchases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r purchaseRepo) MarkConsumed(ctx context.Context, id, protocolID uuid.UUID) error {
	defer r.s.lock()()
	if err := r.s.fail("purchases.mark_consumed"); err != nil {
		return err
	}
	p, ok := r.s.d.st.purchases[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.ProtocolCreated {
		return repository.ErrAlreadyConsumed
	}
	c := *p
	c.ProtocolCreated = true
	c.ProtocolID = &protocolID
	r.s.d.st.purchases[id] = &c
	return nil
}

func (r purchaseRepo) UnlinkProtocol(ctx context.Context, protocolID uuid.UUID) error {
	defer r.s.lock()()
	for id, p := range r.s.d.st.purchases {
		if p.ProtocolID != nil && *p.ProtocolID == protocolID {
			c := *p
			c.ProtocolID = nil
			c.ProtocolCreated = false
			r.s.d.st.purchases[id] = &c
		}
	}
	return nil
}

package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/memory"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/followup"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/journey"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/ledger"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

type fixture struct {
	svc      *Service
	store    *memory.Store
	journeys *journey.Service
	ledger   *ledger.Service
	patient  *model.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	log := logger.Nop()
	m := metrics.New("test")
	events := event.NewService(store.Outbox(), log)

	ledgerSvc := ledger.NewService(store, events, ledger.Config{MaxCASAttempts: 3}, log, m)
	journeySvc := journey.NewService(store, events, journey.Config{TemplateCacheTTL: time.Minute}, log, m)
	followUpSvc := followup.NewService(store, followup.Config{}, log, m)

	patient := &model.Patient{FirstName: "Sam", LastName: "Ortiz"}
	require.NoError(t, store.Patients().Create(context.Background(), patient))

	return &fixture{
		svc:      NewService(store, events, ledgerSvc, journeySvc, followUpSvc, log),
		store:    store,
		journeys: journeySvc,
		ledger:   ledgerSvc,
		patient:  patient,
	}
}

func (f *fixture) purchase(t *testing.T, category string, sessions, days *int) *model.Purchase {
	t.Helper()
	p := &model.Purchase{
		PatientID:    f.patient.ID,
		Category:     category,
		ItemName:     category + " package",
		Amount:       450,
		SessionCount: sessions,
		SupplyDays:   days,
	}
	require.NoError(t, f.store.Purchases().Create(context.Background(), p))
	return p
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, e := range f.store.OutboxEvents() {
		out = append(out, e.EventType)
	}
	return out
}

func today() time.Time { return model.DateOf(time.Now()) }

func TestCreateProtocol_WiresJourneyFollowUpAndPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.journeys.CreateTemplate(ctx, model.CreateTemplateRequest{
		Name:        "HRT standard",
		ProgramType: model.ProgramHRT,
		Stages:      model.JourneyStages{{Key: "labs"}, {Key: "titration"}, {Key: "stable"}},
		IsDefault:   true,
	})
	require.NoError(t, err)
	purchase := f.purchase(t, "testosterone", nil, nil)
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	res, err := f.svc.CreateProtocol(ctx, model.CreateProtocolRequest{
		PatientID:      f.patient.ID,
		ProgramType:    "Testosterone",
		DeliveryMethod: model.DeliveryTakeHome,
		StartDate:      &start,
		PurchaseID:     &purchase.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, ActionCreated, res.Action)

	p := res.Protocol
	assert.Equal(t, model.ProgramHRT, p.ProgramType)
	assert.Equal(t, "HRT", p.Name)
	assert.Equal(t, model.ProtocolStatusActive, p.Status)
	assert.Equal(t, 0, p.SessionsUsed)
	require.NotNil(t, p.CurrentJourneyStage)
	assert.Equal(t, "labs", *p.CurrentJourneyStage)

	labs, err := f.store.FollowUps().ListByProtocol(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, labs, 1)
	assert.Equal(t, start.AddDate(0, 0, 56), labs[0].DueDate)

	stored, err := f.store.Purchases().Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.True(t, stored.Consumed())
	assert.Equal(t, p.ID, *stored.ProtocolID)

	assert.ElementsMatch(t, []string{model.EventJourneyStageChanged, model.EventProtocolCreated}, f.eventTypes())
}

func TestCreateProtocol_WithoutDefaultTemplate(t *testing.T) {
	f := newFixture(t)
	total := 10

	res, err := f.svc.CreateProtocol(context.Background(), model.CreateProtocolRequest{
		PatientID:      f.patient.ID,
		Name:           "HBOT 10 pack",
		ProgramType:    model.ProgramHBOT,
		DeliveryMethod: model.DeliveryInClinic,
		TotalSessions:  &total,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Nil(t, res.Protocol.CurrentJourneyStage)
	assert.Equal(t, today(), *res.Protocol.StartDate)
	assert.Equal(t, []string{model.EventProtocolCreated}, f.eventTypes())
}

func TestCreateProtocol_SecondaryFailuresAreWarnings(t *testing.T) {
	f := newFixture(t)
	f.store.InjectFailure("follow_ups.create", errors.New("deadlock detected"), 1)

	res, err := f.svc.CreateProtocol(context.Background(), model.CreateProtocolRequest{
		PatientID:      f.patient.ID,
		ProgramType:    model.ProgramWeightLoss,
		DeliveryMethod: model.DeliveryTakeHome,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"failed to schedule follow-up labs: storage unavailable"}, res.Warnings)

	_, err = f.store.Protocols().Get(context.Background(), res.Protocol.ID)
	assert.NoError(t, err)
}

func TestCreateProtocol_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, 0, -1)
	zero := 0

	consumed := f.purchase(t, "hbot", nil, nil)
	require.NoError(t, f.store.Purchases().MarkConsumed(ctx, consumed.ID, uuid.New()))

	tests := []struct {
		name  string
		req   model.CreateProtocolRequest
		check func(error) bool
	}{
		{
			name:  "end before start",
			req:   model.CreateProtocolRequest{PatientID: f.patient.ID, ProgramType: model.ProgramPeptide, DeliveryMethod: model.DeliveryTakeHome, StartDate: &start, EndDate: &before},
			check: apperrors.IsValidation,
		},
		{
			name:  "unknown program type",
			req:   model.CreateProtocolRequest{PatientID: f.patient.ID, ProgramType: "cryotherapy", DeliveryMethod: model.DeliveryInClinic},
			check: apperrors.IsValidation,
		},
		{
			name:  "bad delivery method",
			req:   model.CreateProtocolRequest{PatientID: f.patient.ID, ProgramType: model.ProgramHBOT, DeliveryMethod: "mail"},
			check: apperrors.IsValidation,
		},
		{
			name:  "zero sessions",
			req:   model.CreateProtocolRequest{PatientID: f.patient.ID, ProgramType: model.ProgramHBOT, DeliveryMethod: model.DeliveryInClinic, TotalSessions: &zero},
			check: apperrors.IsValidation,
		},
		{
			name:  "unknown patient",
			req:   model.CreateProtocolRequest{PatientID: uuid.New(), ProgramType: model.ProgramHBOT, DeliveryMethod: model.DeliveryInClinic},
			check: apperrors.IsNotFound,
		},
		{
			name:  "consumed purchase",
			req:   model.CreateProtocolRequest{PatientID: f.patient.ID, ProgramType: model.ProgramHBOT, DeliveryMethod: model.DeliveryInClinic, PurchaseID: &consumed.ID},
			check: apperrors.IsConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateProtocol(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestGetProtocol_DerivesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := today().AddDate(0, 0, -40)
	end := today().AddDate(0, 0, -10)

	res, err := f.svc.CreateProtocol(ctx, model.CreateProtocolRequest{
		PatientID: f.patient.ID, ProgramType: model.ProgramPeptide, DeliveryMethod: model.DeliveryTakeHome,
		StartDate: &start, EndDate: &end,
	})
	require.NoError(t, err)

	detail, err := f.svc.GetProtocol(ctx, res.Protocol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolStatusActive, detail.Protocol.Status)
	assert.Equal(t, model.ProtocolStatusCompleted, detail.DerivedStatus)
	assert.NotNil(t, detail.Logs)

	_, err = f.svc.GetProtocol(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteProtocol_RemovesLedgerAndReleasesPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessions := 6
	purchase := f.purchase(t, "hbot", &sessions, nil)

	res, err := f.svc.ApplyPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	id := res.Protocol.ID
	_, err = f.ledger.LogSession(ctx, model.LogSessionRequest{ProtocolID: id})
	require.NoError(t, err)
	_, err = f.ledger.ToggleDayCompletion(ctx, id, 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteProtocol(ctx, id))

	_, err = f.svc.GetProtocol(ctx, id)
	assert.True(t, apperrors.IsNotFound(err))
	logs, err := f.store.Logs().ListByProtocol(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, logs)
	_, err = f.store.DayEntries().Get(ctx, id, 1)
	assert.Error(t, err)

	stored, err := f.store.Purchases().Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.False(t, stored.Consumed())
	assert.Nil(t, stored.ProtocolID)

	assert.True(t, apperrors.IsNotFound(f.svc.DeleteProtocol(ctx, id)))
}

func TestApplyPurchase_CreatesFromProgramDefaults(t *testing.T) {
	tests := []struct {
		category     string
		sessions     *int
		wantType     model.ProgramType
		wantDelivery model.DeliveryMethod
		wantTotal    *int
		wantDays     int
	}{
		{"hbot", intPtr(10), model.ProgramHBOT, model.DeliveryInClinic, intPtr(10), 70},
		{"red_light", nil, model.ProgramRedLight, model.DeliveryInClinic, intPtr(1), 7},
		{"iv_therapy", intPtr(3), model.ProgramIVTherapy, model.DeliveryInClinic, intPtr(1), 7},
		{"weight_loss", nil, model.ProgramWeightLoss, model.DeliveryTakeHome, intPtr(4), 28},
		{"testosterone", nil, model.ProgramHRT, model.DeliveryTakeHome, nil, 30},
		{"peptide", nil, model.ProgramPeptide, model.DeliveryTakeHome, nil, 30},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			f := newFixture(t)
			purchase := f.purchase(t, tt.category, tt.sessions, nil)

			res, err := f.svc.ApplyPurchase(context.Background(), purchase.ID)
			require.NoError(t, err)
			assert.Equal(t, ActionCreated, res.Action)

			p := res.Protocol
			assert.Equal(t, tt.wantType, p.ProgramType)
			assert.Equal(t, tt.wantDelivery, p.DeliveryMethod)
			assert.Equal(t, tt.wantTotal, p.TotalSessions)
			assert.Equal(t, today().AddDate(0, 0, tt.wantDays), *p.EndDate)
			assert.Equal(t, tt.category+" package", p.Name)
		})
	}
}

func TestApplyPurchase_TopsUpActiveProtocol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.ApplyPurchase(ctx, f.purchase(t, "hbot", intPtr(10), nil).ID)
	require.NoError(t, err)
	second, err := f.svc.ApplyPurchase(ctx, f.purchase(t, "hbot", intPtr(5), nil).ID)
	require.NoError(t, err)

	assert.Equal(t, ActionSessionsAdded, second.Action)
	assert.Equal(t, first.Protocol.ID, second.Protocol.ID)
	assert.Equal(t, 15, *second.Protocol.TotalSessions)

	supply, err := f.svc.ApplyPurchase(ctx, f.purchase(t, "peptide", nil, nil).ID)
	require.NoError(t, err)
	extended, err := f.svc.ApplyPurchase(ctx, f.purchase(t, "peptide", nil, intPtr(14)).ID)
	require.NoError(t, err)

	assert.Equal(t, ActionSupplyExtended, extended.Action)
	assert.Equal(t, supply.Protocol.ID, extended.Protocol.ID)
	assert.Equal(t, today().AddDate(0, 0, 44), *extended.Protocol.EndDate)
}

func TestApplyPurchase_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	purchase := f.purchase(t, "vitamin", intPtr(4), nil)
	_, err := f.svc.ApplyPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	_, err = f.svc.ApplyPurchase(ctx, purchase.ID)
	assert.True(t, apperrors.IsConflict(err))

	unknown := f.purchase(t, "massage", nil, nil)
	_, err = f.svc.ApplyPurchase(ctx, unknown.ID)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.ApplyPurchase(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreateProtocol_PurchaseLinkFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	purchase := f.purchase(t, "hbot", intPtr(10), nil)
	f.store.InjectFailure("purchases.mark_consumed", errors.New("connection reset"), 1)

	_, err := f.svc.CreateProtocol(ctx, model.CreateProtocolRequest{
		PatientID: f.patient.ID, ProgramType: model.ProgramHBOT, DeliveryMethod: model.DeliveryInClinic,
		TotalSessions: intPtr(10), PurchaseID: &purchase.ID,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))

	protocols, err := f.store.Protocols().ListByPatient(ctx, f.patient.ID, model.ProtocolFilter{})
	require.NoError(t, err)
	assert.Empty(t, protocols)
	assert.Empty(t, f.eventTypes())
}

func TestApplyPurchase_ConcurrentCallsFundOneProtocol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	purchase := f.purchase(t, "hbot", intPtr(10), nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyPurchase(ctx, purchase.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if apperrors.IsConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, conflicts)

	protocols, err := f.store.Protocols().ListByPatient(ctx, f.patient.ID, model.ProtocolFilter{})
	require.NoError(t, err)
	require.Len(t, protocols, 1)
	require.NotNil(t, protocols[0].TotalSessions)
	assert.Equal(t, 10, *protocols[0].TotalSessions)

	stored, err := f.store.Purchases().Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, protocols[0].ID, *stored.ProtocolID)
}

package packages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/memory"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
)

var testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	patient *model.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	patient := &model.Patient{FirstName: "Sam", LastName: "Ortiz"}
	require.NoError(t, store.Patients().Create(context.Background(), patient))

	svc := NewService(store)
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, store: store, patient: patient}
}

func (f *fixture) add(t *testing.T, name string, p model.Protocol) uuid.UUID {
	t.Helper()
	p.PatientID = f.patient.ID
	p.Name = name
	if p.Status == "" {
		p.Status = model.ProtocolStatusActive
	}
	require.NoError(t, f.store.Protocols().Create(context.Background(), &p))
	return p.ID
}

func names(summaries []*model.PackageSummary) []string {
	out := make([]string, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.Name)
	}
	return out
}

func TestFindUsablePackages_Filters(t *testing.T) {
	f := newFixture(t)
	f.add(t, "hbot-open", model.Protocol{ProgramType: model.ProgramHBOT, DeliveryMethod: model.DeliveryInClinic, TotalSessions: intPtr(10), SessionsUsed: 4})
	f.add(t, "hbot-full", model.Protocol{ProgramType: model.ProgramHBOT, DeliveryMethod: model.DeliveryInClinic, TotalSessions: intPtr(10), SessionsUsed: 10})
	f.add(t, "hbot-done", model.Protocol{ProgramType: model.ProgramHBOT, DeliveryMethod: model.DeliveryInClinic, TotalSessions: intPtr(10), SessionsUsed: 2, Status: model.ProtocolStatusCompleted})
	f.add(t, "peptide-current", model.Protocol{ProgramType: model.ProgramPeptide, DeliveryMethod: model.DeliveryTakeHome, EndDate: date(2026, 5, 20)})
	f.add(t, "peptide-lapsed", model.Protocol{ProgramType: model.ProgramPeptide, DeliveryMethod: model.DeliveryTakeHome, EndDate: date(2026, 4, 30)})
	f.add(t, "wl-lapsed-with-sessions", model.Protocol{ProgramType: model.ProgramWeightLoss, DeliveryMethod: model.DeliveryTakeHome, TotalSessions: intPtr(4), SessionsUsed: 1, EndDate: date(2026, 4, 1)})
	f.add(t, "iv-unbounded", model.Protocol{ProgramType: model.ProgramIVTherapy, DeliveryMethod: model.DeliveryInClinic})

	got, err := f.svc.FindUsablePackages(context.Background(), f.patient.ID, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hbot-open", "peptide-current", "iv-unbounded"}, names(got))

	for _, s := range got {
		if s.SessionsRemaining != nil {
			assert.Greater(t, *s.SessionsRemaining, 0)
		}
		if s.DeliveryMethod == model.DeliveryTakeHome {
			require.NotNil(t, s.DaysRemaining)
			assert.GreaterOrEqual(t, *s.DaysRemaining, 0)
		}
	}
}

func TestFindUsablePackages_EndDateTodayIsStillUsable(t *testing.T) {
	f := newFixture(t)
	f.add(t, "ends-today", model.Protocol{ProgramType: model.ProgramVitamin, DeliveryMethod: model.DeliveryTakeHome, EndDate: date(2026, 5, 1)})

	got, err := f.svc.FindUsablePackages(context.Background(), f.patient.ID, "vitamin")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, *got[0].DaysRemaining)
}

func TestFindUsablePackages_CategoryMapping(t *testing.T) {
	f := newFixture(t)
	f.add(t, "trt", model.Protocol{ProgramType: model.ProgramHRT, DeliveryMethod: model.DeliveryTakeHome, TotalSessions: intPtr(8)})
	f.add(t, "sema", model.Protocol{ProgramType: model.ProgramWeightLoss, DeliveryMethod: model.DeliveryTakeHome, TotalSessions: intPtr(4)})
	f.add(t, "drip", model.Protocol{ProgramType: model.ProgramIVTherapy, DeliveryMethod: model.DeliveryInClinic, TotalSessions: intPtr(1)})

	tests := []struct {
		category string
		want     []string
	}{
		{"testosterone", []string{"trt"}},
		{"weight_loss", []string{"sema"}},
		{"iv_therapy", []string{"drip"}},
		{"red_light", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			got, err := f.svc.FindUsablePackages(context.Background(), f.patient.ID, tt.category)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, names(got))
		})
	}
}

func TestFindUsablePackages_UnknownCategory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FindUsablePackages(context.Background(), f.patient.ID, "weightlossish")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestFindUsablePackages_UnknownPatient(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FindUsablePackages(context.Background(), uuid.New(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

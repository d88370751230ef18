package followup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/memory"
	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	return NewService(store, Config{}, logger.Nop(), metrics.New("test")), store
}

var start = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func TestScheduleFirstFollowUp(t *testing.T) {
	tests := []struct {
		programType string
		wantLabel   string
	}{
		{"hrt", "HRT"},
		{"Testosterone", "HRT"},
		{"weight_loss", "Weight Loss"},
		{"weight-loss", "Weight Loss"},
	}
	for _, tt := range tests {
		t.Run(tt.programType, func(t *testing.T) {
			svc, _ := newTestService()
			res, err := svc.ScheduleFirstFollowUp(context.Background(), model.ScheduleFollowUpRequest{
				ProtocolID:  uuid.New(),
				PatientID:   uuid.New(),
				ProgramType: tt.programType,
				StartDate:   start,
			})
			require.NoError(t, err)
			assert.True(t, res.Applicable)
			assert.True(t, res.Created)
			assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), res.FollowUp.DueDate)
			assert.Equal(t, 1, res.FollowUp.FollowUpNumber)
			assert.Equal(t, model.FollowUpTypeFirst, res.FollowUp.FollowUpType)
			assert.Equal(t, model.FollowUpStatusDue, res.FollowUp.Status)
			assert.Equal(t, tt.wantLabel, res.FollowUp.ProtocolLabel)
		})
	}
}

func TestScheduleFirstFollowUp_Idempotent(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	req := model.ScheduleFollowUpRequest{ProtocolID: uuid.New(), PatientID: uuid.New(), ProgramType: "hrt", StartDate: start}

	first, err := svc.ScheduleFirstFollowUp(ctx, req)
	require.NoError(t, err)
	second, err := svc.ScheduleFirstFollowUp(ctx, req)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.FollowUp.ID, second.FollowUp.ID)

	labs, err := store.FollowUps().ListByProtocol(ctx, req.ProtocolID)
	require.NoError(t, err)
	assert.Len(t, labs, 1)
}

func TestScheduleFirstFollowUp_ConcurrentCallsShareOneRecord(t *testing.T) {
	svc, store := newTestService()
	req := model.ScheduleFollowUpRequest{ProtocolID: uuid.New(), PatientID: uuid.New(), ProgramType: "weight_loss", StartDate: start}

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.ScheduleFirstFollowUp(context.Background(), req)
			if assert.NoError(t, err) {
				ids[i] = res.FollowUp.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	labs, err := store.FollowUps().ListByProtocol(context.Background(), req.ProtocolID)
	require.NoError(t, err)
	assert.Len(t, labs, 1)
}

func TestScheduleFirstFollowUp_NotApplicable(t *testing.T) {
	svc, _ := newTestService()

	res, err := svc.ScheduleFirstFollowUp(context.Background(), model.ScheduleFollowUpRequest{
		ProtocolID: uuid.New(), PatientID: uuid.New(), ProgramType: "hbot", StartDate: start,
	})
	require.NoError(t, err)
	assert.False(t, res.Applicable)
	assert.Nil(t, res.FollowUp)
}

func TestScheduleFirstFollowUp_Validation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ScheduleFirstFollowUp(context.Background(), model.ScheduleFollowUpRequest{
		ProtocolID: uuid.New(), PatientID: uuid.New(), ProgramType: "hrt",
	})
	assert.True(t, apperrors.IsValidation(err))

	// "hormone replacement" is not an alias; substrings do not count
	_, err = svc.ScheduleFirstFollowUp(context.Background(), model.ScheduleFollowUpRequest{
		ProtocolID: uuid.New(), PatientID: uuid.New(), ProgramType: "hormone replacement", StartDate: start,
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestScheduleForProtocol(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	patient := &model.Patient{FirstName: "Ari"}
	require.NoError(t, store.Patients().Create(ctx, patient))
	p := &model.Protocol{
		PatientID: patient.ID, Name: "TRT", ProgramType: model.ProgramHRT,
		DeliveryMethod: model.DeliveryTakeHome, Status: model.ProtocolStatusActive, StartDate: &start,
	}
	require.NoError(t, store.Protocols().Create(ctx, p))

	res, err := svc.ScheduleForProtocol(ctx, p.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 56), res.FollowUp.DueDate)

	labs, err := svc.ListFollowUps(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, labs, 1)

	_, err = svc.ListFollowUps(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

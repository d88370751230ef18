package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	checkinHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/checkin"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/health"
	journeyHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/journey"
	promHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/prometheus"
	protocolHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/protocol"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/memory"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/checkin"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/followup"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/journey"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/ledger"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/packages"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/protocol"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

type stubDB struct{ err error }

func (s stubDB) PingContext(ctx context.Context) error { return s.err }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	engine  *gin.Engine
	store   *memory.Store
	patient *model.Patient
}

func newTestServer(t *testing.T, db stubDB) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	log := logger.Nop()
	m := metrics.New("test")
	registry := prom.NewRegistry()
	require.NoError(t, m.Register(registry))
	httpMetrics := promHandler.New(registry, "test")

	events := event.NewService(store.Outbox(), log)
	ledgerSvc := ledger.NewService(store, events, ledger.Config{MaxCASAttempts: 3}, log, m)
	journeySvc := journey.NewService(store, events, journey.Config{TemplateCacheTTL: time.Minute}, log, m)
	followUpSvc := followup.NewService(store, followup.Config{}, log, m)
	protocolSvc := protocol.NewService(store, events, ledgerSvc, journeySvc, followUpSvc, log)

	r := NewRouter(RouterConfig{Metrics: httpMetrics.Middleware()},
		health.NewHandler(db, httpMetrics.Handler()),
		protocolHandler.NewHandler(protocolSvc, ledgerSvc, packages.NewService(store), followUpSvc),
		journeyHandler.NewHandler(journeySvc),
		checkinHandler.NewHandler(checkin.NewService(store, log)),
	)
	r.Setup()

	patient := &model.Patient{FirstName: "Jo", LastName: "Park"}
	require.NoError(t, store.Patients().Create(context.Background(), patient))

	return &testServer{engine: r.Engine(), store: store, patient: patient}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode(t *testing.T, env envelope, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func (s *testServer) createHBOT(t *testing.T, total int) *model.Protocol {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/protocols", gin.H{
		"patient_id":      s.patient.ID,
		"program_type":    "hbot",
		"delivery_method": "in_clinic",
		"total_sessions":  total,
		"start_date":      "2026-03-01",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var res model.ProtocolResult
	decode(t, env, &res)
	return res.Protocol
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, stubDB{})
	code, _ := s.do(t, http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/metrics", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")

	down := newTestServer(t, stubDB{err: errors.New("connection refused")})
	code, _ = down.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLedgerRoutes(t *testing.T) {
	s := newTestServer(t, stubDB{})
	p := s.createHBOT(t, 2)
	base := "/api/v1/protocols/" + p.ID.String()

	code, env := s.do(t, http.MethodPost, base+"/sessions", gin.H{"occurred_on": "2026-03-02"})
	require.Equal(t, http.StatusCreated, code)
	var first model.LedgerResult
	decode(t, env, &first)
	assert.Equal(t, 1, first.SessionNumber)
	assert.Equal(t, model.LogTypeSession, first.Log.LogType)

	code, _ = s.do(t, http.MethodPost, base+"/sessions", nil)
	require.Equal(t, http.StatusCreated, code)

	code, env = s.do(t, http.MethodPost, base+"/sessions", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "pack only has 0 sessions remaining", env.Error.Message)
	assert.Equal(t, "conflict", env.Error.Kind)

	code, env = s.do(t, http.MethodGet, base+"/logs", nil)
	require.Equal(t, http.StatusOK, code)
	var logs []*model.ProtocolLog
	decode(t, env, &logs)
	require.Len(t, logs, 2)

	code, env = s.do(t, http.MethodDelete, "/api/v1/protocol-logs/"+first.Log.ID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	var deleted model.LedgerResult
	decode(t, env, &deleted)
	assert.Equal(t, 1, deleted.SessionNumber)
	assert.Equal(t, model.ProtocolStatusActive, deleted.Protocol.Status)

	code, env = s.do(t, http.MethodPost, base+"/add-sessions", gin.H{"count": 3})
	require.Equal(t, http.StatusOK, code)
	var added model.LedgerResult
	decode(t, env, &added)
	assert.Equal(t, 5, *added.Protocol.TotalSessions)

	code, env = s.do(t, http.MethodPost, base+"/extend", gin.H{"days": 7})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "supply can only be extended on take-home protocols", env.Error.Message)

	code, _ = s.do(t, http.MethodPost, base+"/days/2/toggle", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, base+"/days/99/toggle", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, base+"/days/two/toggle", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLedgerRoutes_DeductAndMissed(t *testing.T) {
	s := newTestServer(t, stubDB{})
	p := s.createHBOT(t, 4)
	base := "/api/v1/protocols/" + p.ID.String()

	code, env := s.do(t, http.MethodPost, base+"/deduct-sessions", gin.H{"count": 3})
	require.Equal(t, http.StatusOK, code)
	var deducted model.LedgerResult
	decode(t, env, &deducted)
	assert.Equal(t, 3, deducted.SessionNumber)

	code, env = s.do(t, http.MethodPost, base+"/deduct-sessions", gin.H{"count": 2})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "pack only has 1 sessions remaining", env.Error.Message)

	code, env = s.do(t, http.MethodPost, base+"/log-entries", gin.H{"occurred_on": "2026-03-09", "reason": "sick"})
	require.Equal(t, http.StatusCreated, code)
	var missed model.LedgerResult
	decode(t, env, &missed)
	assert.Equal(t, model.LogTypeMissed, missed.Log.LogType)
	assert.Equal(t, 3, missed.SessionNumber)

	code, _ = s.do(t, http.MethodPost, base+"/log-entries", gin.H{"reason": "sick", "occurred_on": "09/03/2026"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = s.do(t, http.MethodPost, base+"/log-entries", gin.H{"log_type": "injection", "reason": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", env.Error.Kind)

	code, env = s.do(t, http.MethodGet, base+"/logs", nil)
	require.Equal(t, http.StatusOK, code)
	var logs []*model.ProtocolLog
	decode(t, env, &logs)
	assert.Len(t, logs, 4)
}

func TestProtocolRoutes(t *testing.T) {
	s := newTestServer(t, stubDB{})
	p := s.createHBOT(t, 10)

	code, env := s.do(t, http.MethodGet, "/api/v1/protocols/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	var detail model.ProtocolDetail
	decode(t, env, &detail)
	assert.Equal(t, p.ID, detail.Protocol.ID)

	code, _ = s.do(t, http.MethodGet, "/api/v1/protocols/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = s.do(t, http.MethodGet, "/api/v1/protocols/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "protocol not found", env.Error.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/protocols", gin.H{
		"patient_id": s.patient.ID, "program_type": "hbot", "delivery_method": "in_clinic", "start_date": "03/01/2026",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "start_date must be a YYYY-MM-DD date", env.Error.Message)

	code, env = s.do(t, http.MethodGet, "/api/v1/patients/"+s.patient.ID.String()+"/protocols?status=active", nil)
	require.Equal(t, http.StatusOK, code)
	var list []*model.Protocol
	decode(t, env, &list)
	assert.Len(t, list, 1)

	code, env = s.do(t, http.MethodGet, "/api/v1/patients/"+s.patient.ID.String()+"/packages?category=hbot", nil)
	require.Equal(t, http.StatusOK, code)
	var pkgs []*model.PackageSummary
	decode(t, env, &pkgs)
	require.Len(t, pkgs, 1)
	assert.Equal(t, 10, *pkgs[0].SessionsRemaining)

	code, _ = s.do(t, http.MethodGet, "/api/v1/patients/"+s.patient.ID.String()+"/packages?category=massage", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/protocols/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/protocols/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPurchaseAndFollowUpRoutes(t *testing.T) {
	s := newTestServer(t, stubDB{})
	purchase := &model.Purchase{PatientID: s.patient.ID, Category: "weight_loss", ItemName: "Semaglutide month"}
	require.NoError(t, s.store.Purchases().Create(context.Background(), purchase))

	code, env := s.do(t, http.MethodPost, "/api/v1/purchases/"+purchase.ID.String()+"/apply", nil)
	require.Equal(t, http.StatusOK, code)
	var res model.ProtocolResult
	decode(t, env, &res)
	assert.Equal(t, protocol.ActionCreated, res.Action)

	code, _ = s.do(t, http.MethodPost, "/api/v1/purchases/"+purchase.ID.String()+"/apply", nil)
	assert.Equal(t, http.StatusConflict, code)

	// creation already scheduled it, so this returns the existing record
	code, env = s.do(t, http.MethodPost, "/api/v1/protocols/"+res.Protocol.ID.String()+"/follow-ups/first", nil)
	require.Equal(t, http.StatusOK, code)
	var fu model.FollowUpResult
	decode(t, env, &fu)
	assert.False(t, fu.Created)
	assert.Equal(t, "Weight Loss", fu.FollowUp.ProtocolLabel)

	code, env = s.do(t, http.MethodGet, "/api/v1/protocols/"+res.Protocol.ID.String()+"/follow-ups", nil)
	require.Equal(t, http.StatusOK, code)
	var labs []*model.FollowUpLab
	decode(t, env, &labs)
	assert.Len(t, labs, 1)
}

func TestJourneyRoutes(t *testing.T) {
	s := newTestServer(t, stubDB{})

	code, env := s.do(t, http.MethodPost, "/api/v1/journey-templates", gin.H{
		"name":         "HBOT course",
		"program_type": "hbot",
		"is_default":   true,
		"stages": []gin.H{
			{"key": "onboarding", "label": "Onboarding"},
			{"key": "active", "label": "Active"},
			{"key": "wrap_up", "label": "Wrap up"},
		},
	})
	require.Equal(t, http.StatusCreated, code)
	var tmpl model.JourneyTemplate
	decode(t, env, &tmpl)

	p := s.createHBOT(t, 10)
	base := "/api/v1/protocols/" + p.ID.String() + "/journey"

	code, env = s.do(t, http.MethodPost, base+"/advance", gin.H{"new_stage": "finished"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid stage: finished. Valid stages: onboarding, active, wrap_up", env.Error.Message)

	code, env = s.do(t, http.MethodPost, base+"/advance", gin.H{"new_stage": "active", "triggered_by": "nurse.kim"})
	require.Equal(t, http.StatusOK, code)
	var adv model.AdvanceResult
	decode(t, env, &adv)
	assert.Equal(t, "active", *adv.Protocol.CurrentJourneyStage)

	code, env = s.do(t, http.MethodGet, base+"/events", nil)
	require.Equal(t, http.StatusOK, code)
	var events []*model.JourneyEvent
	decode(t, env, &events)
	require.Len(t, events, 2)
	assert.Equal(t, "active", events[0].NewStage)

	code, _ = s.do(t, http.MethodPost, base+"/assign", gin.H{"template_id": tmpl.ID})
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/journey-templates?program_type=hbot", nil)
	require.Equal(t, http.StatusOK, code)
	var templates []*model.JourneyTemplate
	decode(t, env, &templates)
	assert.Len(t, templates, 1)

	code, env = s.do(t, http.MethodPut, "/api/v1/journey-templates/"+tmpl.ID.String(), gin.H{"name": "HBOT 2.0"})
	require.Equal(t, http.StatusOK, code)
	decode(t, env, &tmpl)
	assert.Equal(t, "HBOT 2.0", tmpl.Name)
}

func TestCheckInRoute(t *testing.T) {
	s := newTestServer(t, stubDB{})

	code, env := s.do(t, http.MethodPost, "/api/v1/check-ins", gin.H{
		"patient_id":    s.patient.ID,
		"check_in_date": "2026-03-05",
		"energy_score":  6,
		"mood_score":    9,
	})
	require.Equal(t, http.StatusOK, code)
	var ci model.CheckIn
	decode(t, env, &ci)
	assert.Equal(t, 8, *ci.OverallScore)

	code, _ = s.do(t, http.MethodPost, "/api/v1/check-ins", gin.H{"patient_id": s.patient.ID, "energy_score": 12})
	assert.Equal(t, http.StatusBadRequest, code)
}

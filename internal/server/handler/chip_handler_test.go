package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/lifecycle"
	"github.com/xela07ax/chipfleet-control-plane/internal/ratelimit"
)

type fakeChips struct {
	chips map[string]*domain.ChipIdentity
}

func (f *fakeChips) LoadChip(_ context.Context, id string) (*domain.ChipIdentity, error) {
	c, ok := f.chips[id]
	if !ok {
		return nil, domain.ErrChipNotFound
	}
	return c, nil
}

func (f *fakeChips) ListChips(_ context.Context, filter domain.ChipFilter) ([]*domain.ChipIdentity, error) {
	out := make([]*domain.ChipIdentity, 0)
	for _, c := range f.chips {
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				if c.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

type fakeLifecycle struct {
	out lifecycle.Outcome
}

func (f *fakeLifecycle) PauseChip(_ context.Context, id, _ string) lifecycle.Outcome {
	f.out.ID = id
	return f.out
}
func (f *fakeLifecycle) ResumeChip(_ context.Context, id, _ string) lifecycle.Outcome {
	f.out.ID = id
	return f.out
}
func (f *fakeLifecycle) PromoteChip(_ context.Context, id, _ string) lifecycle.Outcome {
	f.out.ID = id
	return f.out
}

type fakeTrust struct{}

func (fakeTrust) GetTrustSummary(_ context.Context, chipID string) (float64, domain.TrustLevel, error) {
	if chipID == "missing" {
		return 0, "", domain.ErrChipNotFound
	}
	return 85, domain.LevelVerde, nil
}

func (fakeTrust) GetRateLimitStatus(_ context.Context, _ string) (*ratelimit.Status, error) {
	return &ratelimit.Status{
		Hourly: ratelimit.WindowUsage{Used: 4, Limit: 5, Percent: 80},
		Daily:  ratelimit.WindowUsage{Used: 4, Limit: 30, Percent: 13.3},
	}, nil
}

func newTestRouter(h *ChipHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/v1/chips", h.List)
	r.Route("/v1/chips/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/pause", h.Pause)
		r.Get("/trust", h.Trust)
		r.Get("/ratelimit", h.RateLimit)
	})
	return r
}

func TestChipHandlerGet(t *testing.T) {
	chips := &fakeChips{chips: map[string]*domain.ChipIdentity{
		"c1": {ID: "c1", PhoneNumber: "+5511999990001", Status: domain.StatusActive},
	}}
	router := newTestRouter(NewChipHandler(chips, &fakeLifecycle{}, fakeTrust{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chips/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.ChipIdentity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, domain.StatusActive, got.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chips/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChipHandlerListStatusFilter(t *testing.T) {
	chips := &fakeChips{chips: map[string]*domain.ChipIdentity{
		"c1": {ID: "c1", Status: domain.StatusActive},
		"c2": {ID: "c2", Status: domain.StatusPaused},
	}}
	router := newTestRouter(NewChipHandler(chips, &fakeLifecycle{}, fakeTrust{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chips?status=paused", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []domain.ChipIdentity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ID)
}

func TestChipHandlerPauseRequiresOperator(t *testing.T) {
	router := newTestRouter(NewChipHandler(&fakeChips{}, &fakeLifecycle{out: lifecycle.Outcome{Result: lifecycle.ResultSucceeded}}, fakeTrust{}))

	// Без X-Operator-ID действие не атрибутируется — отказ
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chips/c1/pause", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/chips/c1/pause", nil)
	req.Header.Set("X-Operator-ID", "op-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusForOutcome(t *testing.T) {
	cases := []struct {
		out  lifecycle.Outcome
		want int
	}{
		{lifecycle.Outcome{Result: lifecycle.ResultSucceeded}, http.StatusOK},
		{lifecycle.Outcome{Result: lifecycle.ResultSkipped, Reason: "already paused"}, http.StatusOK},
		{lifecycle.Outcome{Result: lifecycle.ResultFailed, Reason: domain.ErrChipNotFound.Error()}, http.StatusNotFound},
		{lifecycle.Outcome{Result: lifecycle.ResultFailed, Reason: domain.ErrTerminalStatus.Error() + ": banned"}, http.StatusConflict},
		{lifecycle.Outcome{Result: lifecycle.ResultFailed, Reason: "connection refused"}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForOutcome(tc.out), tc.out.Reason)
	}
}

func TestChipHandlerTrust(t *testing.T) {
	router := newTestRouter(NewChipHandler(&fakeChips{}, &fakeLifecycle{}, fakeTrust{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chips/c1/trust", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"verde"`))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chips/missing/trust", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

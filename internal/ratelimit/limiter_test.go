package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/trust"
	"github.com/xela07ax/chipfleet-control-plane/internal/warmup"
	"go.uber.org/zap"
)

// fakeStore — in-memory замена postgres-репозитория
type fakeStore struct {
	mu    sync.Mutex
	chips map[string]*domain.ChipIdentity
}

func newFakeStore(chips ...*domain.ChipIdentity) *fakeStore {
	s := &fakeStore{chips: map[string]*domain.ChipIdentity{}}
	for _, c := range chips {
		s.chips[c.ID] = c
	}
	return s
}

func (s *fakeStore) LoadChip(_ context.Context, id string) (*domain.ChipIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chips[id]
	if !ok {
		return nil, domain.ErrChipNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpdateSendCounters(_ context.Context, id string, sentHour, sentDay int, hourStart, dayStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chips[id]
	c.MessagesSentHour = sentHour
	c.MessagesSentDay = sentDay
	c.HourWindowStart = hourStart
	c.DayWindowStart = dayStart
	return nil
}

type noPause struct{}

func (noPause) IsPaused(string) bool { return false }

func testChip(id string, phase domain.WarmupPhase, score float64) *domain.ChipIdentity {
	now := time.Now()
	return &domain.ChipIdentity{
		ID: id, Status: domain.StatusWarming, TrustScore: score,
		WarmupPhase: &phase, HourWindowStart: now, DayWindowStart: now,
	}
}

func TestUsagePercent(t *testing.T) {
	assert.Equal(t, 0.0, UsagePercent(5, 0)) // нулевой лимит — 0%, не паника
	assert.Equal(t, 0.0, UsagePercent(0, 10))
	assert.Equal(t, 80.0, UsagePercent(16, 20))
	assert.Equal(t, 100.0, UsagePercent(25, 20)) // кламп сверху
	assert.Equal(t, 0.0, UsagePercent(-1, 10))
}

func TestEffectiveLimitsMonotone(t *testing.T) {
	levels := []domain.TrustLevel{
		domain.LevelCritico, domain.LevelVermelho, domain.LevelLaranja,
		domain.LevelAmarelo, domain.LevelVerde,
	}
	// По уровням внутри фазы
	for _, p := range warmup.Phases() {
		prevH, prevD := -1, -1
		for _, lv := range levels {
			ph := p.Phase
			h, d := EffectiveLimits(&ph, lv)
			assert.GreaterOrEqual(t, h, prevH)
			assert.GreaterOrEqual(t, d, prevD)
			prevH, prevD = h, d
		}
	}
	// По фазам при фиксированном уровне
	prevH, prevD := -1, -1
	for _, p := range warmup.Phases() {
		ph := p.Phase
		h, d := EffectiveLimits(&ph, domain.LevelVerde)
		assert.GreaterOrEqual(t, h, prevH)
		assert.GreaterOrEqual(t, d, prevD)
		prevH, prevD = h, d
	}
	// До прогрева отправок нет вовсе
	h, d := EffectiveLimits(nil, domain.LevelVerde)
	assert.Zero(t, h)
	assert.Zero(t, d)
}

func TestAdmitGrantsAndApproaching(t *testing.T) {
	// engajamento + verde: hourly 20. 16/20 = 80% -> LIMIT_APPROACHING
	chip := testChip("c1", domain.PhaseEngajamento, 85)
	chip.MessagesSentHour = 15
	store := newFakeStore(chip)
	l := NewLimiter(store, noPause{}, zap.NewNop())

	dec, err := l.Admit(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 16, dec.Usage.Hourly.Used)
	assert.Equal(t, 20, dec.Usage.Hourly.Limit)
	assert.Equal(t, 80.0, dec.Usage.Hourly.Percent)
	assert.Contains(t, dec.Approaching, WindowHour)

	// Следующий допуск порог уже не пересекает — сигнал одноразовый
	dec2, err := l.Admit(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, dec2.Allowed)
	assert.NotContains(t, dec2.Approaching, WindowHour)
}

func TestAdmitDeniesAtHundredPercent(t *testing.T) {
	chip := testChip("c1", domain.PhaseEngajamento, 85)
	chip.MessagesSentHour = 20
	store := newFakeStore(chip)
	l := NewLimiter(store, noPause{}, zap.NewNop())

	dec, err := l.Admit(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "limit", dec.Reason)
	assert.Equal(t, []Window{WindowHour}, dec.Exhausted)
	assert.False(t, dec.RetryAt.IsZero())
	// Отказ не трогает счетчик и статус
	assert.Equal(t, 20, store.chips["c1"].MessagesSentHour)
	assert.Equal(t, domain.StatusWarming, store.chips["c1"].Status)
}

func TestAdmitDeniesWhilePaused(t *testing.T) {
	chip := testChip("c1", domain.PhaseOperacao, 90)
	chip.Status = domain.StatusPaused
	l := NewLimiter(newFakeStore(chip), noPause{}, zap.NewNop())

	dec, err := l.Admit(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "paused", dec.Reason)
}

func TestAdmitNoOverAdmissionUnderConcurrency(t *testing.T) {
	// N конкурентных попыток против лимита L: допущено ровно L
	chip := testChip("c1", domain.PhaseRepouso, 90) // hourly limit = 2
	const attempts = 50
	store := newFakeStore(chip)
	l := NewLimiter(store, noPause{}, zap.NewNop())

	var granted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := l.Admit(context.Background(), "c1")
			if err == nil && dec.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	hourLimit, _ := EffectiveLimits(chip.WarmupPhase, trust.ClassifyLevel(chip.TrustScore))
	assert.Equal(t, int64(hourLimit), granted)
	assert.Equal(t, hourLimit, store.chips["c1"].MessagesSentHour)
}

func TestWindowRollover(t *testing.T) {
	chip := testChip("c1", domain.PhaseRepouso, 90)
	chip.MessagesSentHour = 2 // лимит исчерпан
	store := newFakeStore(chip)
	l := NewLimiter(store, noPause{}, zap.NewNop())

	// Пока окно не истекло — отказ
	dec, err := l.Admit(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	// Сдвигаем часы за границу окна — счетчик обнуляется
	l.now = func() time.Time { return time.Now().Add(time.Hour + time.Minute) }
	dec, err = l.Admit(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 1, dec.Usage.Hourly.Used)
}

func TestGetStatusDoesNotIncrement(t *testing.T) {
	chip := testChip("c1", domain.PhaseEngajamento, 85)
	chip.MessagesSentHour = 7
	store := newFakeStore(chip)
	l := NewLimiter(store, noPause{}, zap.NewNop())

	st, err := l.GetStatus(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 7, st.Hourly.Used)
	assert.Equal(t, 7, store.chips["c1"].MessagesSentHour)
}

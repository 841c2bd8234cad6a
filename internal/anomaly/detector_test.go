package anomaly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"go.uber.org/zap"
)

// fakeAlertStore повторяет контракт postgres-репозитория:
// частичная уникальность (chip_id, type) среди открытых, идемпотентный резолв.
type fakeAlertStore struct {
	mu     sync.Mutex
	alerts map[string]*domain.Alert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: map[string]*domain.Alert{}}
}

func (s *fakeAlertStore) InsertAlert(_ context.Context, a *domain.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.alerts {
		if ex.ChipID == a.ChipID && ex.Type == a.Type && ex.IsOpen() {
			return false, nil
		}
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return true, nil
}

func (s *fakeAlertStore) ListOpenAlerts(_ context.Context, chipID string) ([]*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Alert
	for _, a := range s.alerts {
		if (chipID == "" || a.ChipID == chipID) && a.IsOpen() {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) ResolveAlert(_ context.Context, id, by string, tag domain.ResolutionTag, notes string) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	if a.ResolvedAt == nil {
		now := time.Now()
		a.ResolvedAt = &now
		a.ResolvedBy = &by
		a.ResolutionTag = &tag
		a.ResolutionNotes = &notes
	}
	cp := *a
	return &cp, nil
}

func rate(v float64) *float64 { return &v }

func TestRaiseDeduplicatesOpenAlerts(t *testing.T) {
	store := newFakeAlertStore()
	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Raise(ctx, "c1", domain.AlertHighBlockRate, "first breach"))
	require.NoError(t, d.Raise(ctx, "c1", domain.AlertHighBlockRate, "second breach"))

	open, err := store.ListOpenAlerts(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Equal(t, "first breach", open[0].Message)
	assert.Equal(t, domain.SeverityCritical, open[0].Severity)
}

func TestRaiseAfterResolutionCreatesNewAlert(t *testing.T) {
	store := newFakeAlertStore()
	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Raise(ctx, "c1", domain.AlertLowDelivery, "breach"))
	open, _ := store.ListOpenAlerts(ctx, "c1")
	require.Len(t, open, 1)

	_, err := d.Resolve(ctx, open[0].ID, "op-1", domain.ResolutionCorrected, "fixed the base")
	require.NoError(t, err)

	// Новая сработка после резолва — это уже второй алерт
	require.NoError(t, d.Raise(ctx, "c1", domain.AlertLowDelivery, "breach again"))
	open, _ = store.ListOpenAlerts(ctx, "c1")
	assert.Len(t, open, 1)
	assert.Len(t, store.alerts, 2)
}

func TestResolveIdempotent(t *testing.T) {
	store := newFakeAlertStore()
	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Raise(ctx, "c1", domain.AlertFrequentErrors, "breach"))
	open, _ := store.ListOpenAlerts(ctx, "c1")
	first, err := d.Resolve(ctx, open[0].ID, "op-1", domain.ResolutionFalsePositive, "")
	require.NoError(t, err)

	second, err := d.Resolve(ctx, open[0].ID, "op-2", domain.ResolutionCorrected, "later")
	require.NoError(t, err)
	// Повторный резолв успешен, но ничего не мутирует
	assert.Equal(t, first.ResolvedAt, second.ResolvedAt)
	assert.Equal(t, "op-1", *second.ResolvedBy)
}

func TestResolveUnknownAlert(t *testing.T) {
	d := NewDetector(newFakeAlertStore(), zap.NewNop())
	_, err := d.Resolve(context.Background(), "missing", "op", domain.ResolutionCorrected, "")
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
}

func TestSweepThresholds(t *testing.T) {
	store := newFakeAlertStore()
	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()

	phase := domain.PhaseEngajamento
	chip := &domain.ChipIdentity{ID: "c1", TrustScore: 30, WarmupPhase: &phase}
	snap := domain.BehaviorSnapshot{
		BlockRate:    rate(0.20), // > 0.15
		ErrorRate:    rate(0.12), // > 0.10
		DeliveryRate: rate(0.60), // < 0.70 и < 0.85 (quality target)
		ResponseRate: rate(0.02), // < 0.05
		OutlierScore: rate(0.9),  // > 0.8
	}

	require.NoError(t, d.Sweep(ctx, chip, snap, 45)) // падение 45 -> 30 > 10

	open, _ := store.ListOpenAlerts(ctx, "c1")
	types := map[domain.AlertType]bool{}
	for _, a := range open {
		types[a.Type] = true
	}
	for _, want := range []domain.AlertType{
		domain.AlertHighBlockRate, domain.AlertFrequentErrors,
		domain.AlertLowDelivery, domain.AlertLowResponse,
		domain.AlertTrustFalling, domain.AlertAnomalousBehavior,
		domain.AlertQualityTargetMissed,
	} {
		assert.True(t, types[want], "expected %s", want)
	}
}

func TestSweepMissingMetricsNeutral(t *testing.T) {
	store := newFakeAlertStore()
	d := NewDetector(store, zap.NewNop())

	chip := &domain.ChipIdentity{ID: "c1", TrustScore: 50}
	require.NoError(t, d.Sweep(context.Background(), chip, domain.BehaviorSnapshot{}, 50))
	open, _ := store.ListOpenAlerts(context.Background(), "c1")
	assert.Empty(t, open) // нет данных — нет алертов
}

func TestCheckHeartbeat(t *testing.T) {
	store := newFakeAlertStore()
	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()
	now := time.Now()

	fresh := now.Add(-time.Minute)
	alive := &domain.ChipIdentity{ID: "alive", LastActivityAt: &fresh}
	require.NoError(t, d.CheckHeartbeat(ctx, alive, now, assert.AnError))
	open, _ := store.ListOpenAlerts(ctx, "alive")
	assert.Empty(t, open)

	stale := now.Add(-time.Hour)
	dead := &domain.ChipIdentity{ID: "dead", LastActivityAt: &stale}
	require.NoError(t, d.CheckHeartbeat(ctx, dead, now, assert.AnError))
	open, _ = store.ListOpenAlerts(ctx, "dead")
	require.Len(t, open, 1)
	assert.Equal(t, domain.AlertDisconnected, open[0].Type)

	// Молчит, но активная проверка проходит — связи не теряли
	quiet := &domain.ChipIdentity{ID: "quiet", LastActivityAt: &stale}
	require.NoError(t, d.CheckHeartbeat(ctx, quiet, now, nil))
	open, _ = store.ListOpenAlerts(ctx, "quiet")
	assert.Empty(t, open)
}

func TestHasOpenCritical(t *testing.T) {
	store := newFakeAlertStore()
	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Raise(ctx, "c1", domain.AlertPhaseStalled, "stalled")) // attention
	crit, err := d.HasOpenCritical(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, crit)

	require.NoError(t, d.Raise(ctx, "c1", domain.AlertDisconnected, "gone")) // critical
	crit, err = d.HasOpenCritical(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, crit)
}

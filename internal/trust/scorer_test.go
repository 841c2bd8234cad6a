package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestComputeScoreNeutralWhenEmpty(t *testing.T) {
	// Снимок без данных — нейтральные 50, а не ошибка
	score := ComputeScore(domain.BehaviorSnapshot{})
	assert.Equal(t, 50.0, score)
}

func TestComputeScoreBounds(t *testing.T) {
	perfect := domain.BehaviorSnapshot{
		DeliveryRate: f(1), ResponseRate: f(1), BlockRate: f(0), ErrorRate: f(0),
	}
	assert.Equal(t, 100.0, ComputeScore(perfect))

	worst := domain.BehaviorSnapshot{
		DeliveryRate: f(0), ResponseRate: f(0), BlockRate: f(1), ErrorRate: f(1),
	}
	assert.Equal(t, 0.0, ComputeScore(worst))

	// Выход за [0,1] на входе не должен "пробивать" шкалу
	garbage := domain.BehaviorSnapshot{DeliveryRate: f(5), BlockRate: f(-3)}
	got := ComputeScore(garbage)
	require.GreaterOrEqual(t, got, 0.0)
	require.LessOrEqual(t, got, 100.0)
}

func TestComputeScoreIdempotent(t *testing.T) {
	snap := domain.BehaviorSnapshot{DeliveryRate: f(0.9), BlockRate: f(0.05)}
	assert.Equal(t, ComputeScore(snap), ComputeScore(snap))
}

func TestClassifyLevelBands(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.TrustLevel
	}{
		{100, domain.LevelVerde},
		{80, domain.LevelVerde}, // нижняя граница включительно
		{79.9, domain.LevelAmarelo},
		{60, domain.LevelAmarelo},
		{59.9, domain.LevelLaranja},
		{45, domain.LevelLaranja}, // пример из приемки
		{40, domain.LevelLaranja},
		{39.9, domain.LevelVermelho},
		{20, domain.LevelVermelho},
		{19.9, domain.LevelCritico},
		{0, domain.LevelCritico},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyLevel(c.score), "score=%v", c.score)
	}
}

func TestClassifyLevelTotal(t *testing.T) {
	// Любой score попадает ровно в одну из пяти полос
	seen := map[domain.TrustLevel]bool{}
	for s := 0.0; s <= 100; s += 0.5 {
		seen[ClassifyLevel(s)] = true
	}
	assert.Len(t, seen, 5)
}

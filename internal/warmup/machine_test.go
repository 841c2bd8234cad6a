package warmup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

func chipIn(phase domain.WarmupPhase, day int) *domain.ChipIdentity {
	return &domain.ChipIdentity{WarmupPhase: &phase, WarmupDay: day}
}

func TestLimitsMonotonicAcrossPhases(t *testing.T) {
	ps := Phases()
	for i := 1; i < len(ps); i++ {
		assert.GreaterOrEqual(t, ps[i].BaseHourly, ps[i-1].BaseHourly, "hourly %s", ps[i].Phase)
		assert.GreaterOrEqual(t, ps[i].BaseDaily, ps[i-1].BaseDaily, "daily %s", ps[i].Phase)
	}
}

func TestNextChain(t *testing.T) {
	// Цепочка фаз замкнута: от первой доходим до терминальной
	cur := First()
	steps := 0
	for {
		next, ok := Next(cur)
		if !ok {
			break
		}
		cur = next
		steps++
		require.Less(t, steps, 10, "phase chain must terminate")
	}
	assert.Equal(t, Terminal(), cur)
	assert.Equal(t, len(Phases())-1, steps)
}

func TestEvaluateHoldBeforeMinDays(t *testing.T) {
	chip := chipIn(domain.PhasePrimeirosContatos, 1) // MinDays=3
	assert.Equal(t, Hold, Evaluate(chip, domain.LevelVerde, false))
}

func TestEvaluateStallOnLowTrust(t *testing.T) {
	// Дни отсидел, но уровень ниже фазового минимума: стоим, не растем
	chip := chipIn(domain.PhasePrimeirosContatos, 3) // MinLevel=laranja
	assert.Equal(t, Stall, Evaluate(chip, domain.LevelVermelho, false))
}

func TestEvaluateStallOnOpenCritical(t *testing.T) {
	chip := chipIn(domain.PhaseConversasLeves, 10)
	assert.Equal(t, Stall, Evaluate(chip, domain.LevelVerde, true))
}

func TestEvaluateGraduate(t *testing.T) {
	chip := chipIn(domain.PhaseConversasLeves, 4)
	assert.Equal(t, Graduate, Evaluate(chip, domain.LevelLaranja, false))
}

func TestEvaluateInert(t *testing.T) {
	// До прогрева и после operacao автомат молчит
	assert.Equal(t, Inert, Evaluate(&domain.ChipIdentity{}, domain.LevelVerde, false))
	assert.Equal(t, Inert, Evaluate(chipIn(domain.PhaseOperacao, 30), domain.LevelCritico, true))
}

func TestNextAtTerminal(t *testing.T) {
	_, ok := Next(domain.PhaseOperacao)
	assert.False(t, ok)
}

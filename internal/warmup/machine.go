package warmup

import (
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

// PhaseSpec — требования и базовые лимиты одной фазы прогрева.
// Лимиты растут монотонно с каждой фазой (инвариант, проверяется тестом).
type PhaseSpec struct {
	Phase       domain.WarmupPhase
	MinDays     int               // минимум дней в фазе до выпуска
	MinLevel    domain.TrustLevel // уровень доверия не ниже этого
	BaseHourly  int
	BaseDaily   int
}

// Ordered phases. repouso — самый строгий, operacao — полная эксплуатация.
var phases = []PhaseSpec{
	{Phase: domain.PhaseRepouso, MinDays: 2, MinLevel: domain.LevelVermelho, BaseHourly: 2, BaseDaily: 10},
	{Phase: domain.PhasePrimeirosContatos, MinDays: 3, MinLevel: domain.LevelLaranja, BaseHourly: 5, BaseDaily: 30},
	{Phase: domain.PhaseConversasLeves, MinDays: 4, MinLevel: domain.LevelLaranja, BaseHourly: 10, BaseDaily: 60},
	{Phase: domain.PhaseEngajamento, MinDays: 5, MinLevel: domain.LevelLaranja, BaseHourly: 20, BaseDaily: 120},
	{Phase: domain.PhaseExpansao, MinDays: 7, MinLevel: domain.LevelAmarelo, BaseHourly: 40, BaseDaily: 300},
	{Phase: domain.PhaseOperacao, MinDays: 0, MinLevel: domain.LevelCritico, BaseHourly: 100, BaseDaily: 1000},
}

// SpecFor возвращает спецификацию фазы; ok=false для nil (до прогрева).
func SpecFor(phase *domain.WarmupPhase) (PhaseSpec, bool) {
	if phase == nil {
		return PhaseSpec{}, false
	}
	for _, p := range phases {
		if p.Phase == *phase {
			return p, true
		}
	}
	return PhaseSpec{}, false
}

// Next возвращает следующую фазу; ok=false, если phase терминальная
// (operacao) или неизвестна.
func Next(phase domain.WarmupPhase) (domain.WarmupPhase, bool) {
	for i, p := range phases {
		if p.Phase == phase {
			if i+1 >= len(phases) {
				return "", false
			}
			return phases[i+1].Phase, true
		}
	}
	return "", false
}

// First — стартовая фаза прогрева.
func First() domain.WarmupPhase { return phases[0].Phase }

// Terminal — последняя фаза; после нее автомат инертен.
func Terminal() domain.WarmupPhase { return phases[len(phases)-1].Phase }

// Phases — копия упорядоченного списка (для тестов и дашборда).
func Phases() []PhaseSpec {
	out := make([]PhaseSpec, len(phases))
	copy(out, phases)
	return out
}

// Decision — результат проверки выпуска из фазы.
type Decision int

const (
	// Hold — минимум дней еще не отсидел, ничего не делаем
	Hold Decision = iota
	// Graduate — все критерии выполнены, переводим в следующую фазу
	Graduate
	// Stall — дни есть, критериев нет: алерт PHASE_STALLED, фаза та же
	Stall
	// Inert — прогрев не начат или чип уже в operacao
	Inert
)

// Evaluate решает судьбу чипа в текущей фазе. Критерии выпуска: минимум
// дней И уровень доверия не ниже фазового И нет открытого critical-алерта.
// Регрессия фаз автоматом не делается — только pause/resume и ручной promote.
func Evaluate(chip *domain.ChipIdentity, level domain.TrustLevel, hasOpenCritical bool) Decision {
	spec, ok := SpecFor(chip.WarmupPhase)
	if !ok || spec.Phase == Terminal() {
		return Inert
	}
	if chip.WarmupDay < spec.MinDays {
		return Hold
	}
	if level.Rank() < spec.MinLevel.Rank() || hasOpenCritical {
		return Stall
	}
	return Graduate
}

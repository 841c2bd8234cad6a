package ratelimit

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/trust"
	"github.com/xela07ax/chipfleet-control-plane/internal/warmup"
	"go.uber.org/zap"
)

type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour

	// Порог информационного алерта LIMIT_APPROACHING
	approachingPercent = 80.0
)

// levelMultiplier сжимает базовый лимит фазы в зависимости от доверия.
// Чем хуже уровень, тем строже лимит; монотонность проверяется тестом.
func levelMultiplier(level domain.TrustLevel) float64 {
	switch level {
	case domain.LevelVerde:
		return 1.0
	case domain.LevelAmarelo:
		return 0.8
	case domain.LevelLaranja:
		return 0.6
	case domain.LevelVermelho:
		return 0.3
	case domain.LevelCritico:
		return 0.1
	}
	return 0.1
}

// EffectiveLimits — действующие лимиты чипа из фазы и уровня.
// До начала прогрева (nil фаза) отправки запрещены полностью.
func EffectiveLimits(phase *domain.WarmupPhase, level domain.TrustLevel) (hourly, daily int) {
	spec, ok := warmup.SpecFor(phase)
	if !ok {
		return 0, 0
	}
	m := levelMultiplier(level)
	return int(math.Floor(float64(spec.BaseHourly) * m)), int(math.Floor(float64(spec.BaseDaily) * m))
}

// UsagePercent — процент использования окна, всегда в [0,100].
// Нулевой лимит — это 0%, а не деление на ноль (вырожденный вход, не ошибка).
func UsagePercent(used, limit int) float64 {
	if limit <= 0 || used <= 0 {
		return 0
	}
	p := float64(used) / float64(limit) * 100
	if p > 100 {
		return 100
	}
	return p
}

// CounterStore — персистентные счетчики отправок чипа.
type CounterStore interface {
	LoadChip(ctx context.Context, id string) (*domain.ChipIdentity, error)
	UpdateSendCounters(ctx context.Context, id string, sentHour, sentDay int, hourStart, dayStart time.Time) error
}

// PauseChecker — L1-кэш паузы (engine.PauseManager).
type PauseChecker interface {
	IsPaused(chipID string) bool
}

// WindowUsage — состояние одного окна для ответа API.
type WindowUsage struct {
	Used    int     `json:"used"`
	Limit   int     `json:"limit"`
	Percent float64 `json:"percent"`
}

// Status — ответ getRateLimitStatus.
type Status struct {
	Hourly WindowUsage `json:"hourly"`
	Daily  WindowUsage `json:"daily"`
}

// Decision — вердикт допуска одной отправки.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Reason заполняется при отказе: "paused" или "limit"
	Reason string `json:"reason,omitempty"`
	// Exhausted — какие окна исчерпаны (для расчета ретрая вызывающим)
	Exhausted []Window  `json:"exhausted,omitempty"`
	RetryAt   time.Time `json:"retry_at,omitzero"`

	Usage Status `json:"usage"`
	// Approaching — окна, пересекшие порог 80% на этом допуске
	Approaching []Window `json:"approaching,omitempty"`
}

// Limiter сериализует admission-проверки по каждому чипу: проверка и
// инкремент — один атомарный шаг под шардированным мьютексом, а не
// read-then-write гонка. Чипы независимы, шарды по id.
type Limiter struct {
	store  CounterStore
	pause  PauseChecker
	logger *zap.Logger

	shards [64]sync.Mutex

	// now подменяется в тестах
	now func() time.Time
}

func NewLimiter(store CounterStore, pause PauseChecker, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:  store,
		pause:  pause,
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
}

func (l *Limiter) shard(chipID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chipID))
	return &l.shards[h.Sum32()%uint32(len(l.shards))]
}

// rollover сбрасывает счетчик, если окно истекло. Окна локальны чипу:
// отсчет от window_start, персистится вместе со счетчиками.
func rollover(now time.Time, chip *domain.ChipIdentity) {
	if chip.HourWindowStart.IsZero() || now.Sub(chip.HourWindowStart) >= hourWindow {
		chip.MessagesSentHour = 0
		chip.HourWindowStart = now
	}
	if chip.DayWindowStart.IsZero() || now.Sub(chip.DayWindowStart) >= dayWindow {
		chip.MessagesSentDay = 0
		chip.DayWindowStart = now
	}
}

// Admit решает, можно ли чипу отправить сообщение прямо сейчас, и при
// разрешении сразу инкрементирует счетчики (check-and-increment одним шагом).
// Отказ по лимиту не меняет статус чипа.
func (l *Limiter) Admit(ctx context.Context, chipID string) (*Decision, error) {
	mu := l.shard(chipID)
	mu.Lock()
	defer mu.Unlock()

	chip, err := l.store.LoadChip(ctx, chipID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	rollover(now, chip)

	level := trust.ClassifyLevel(chip.TrustScore)
	hourLimit, dayLimit := EffectiveLimits(chip.WarmupPhase, level)

	dec := &Decision{}

	if chip.Status == domain.StatusPaused || l.pause.IsPaused(chipID) {
		dec.Reason = "paused"
		dec.Usage = usageOf(chip, hourLimit, dayLimit)
		return dec, nil
	}

	if chip.MessagesSentHour >= hourLimit {
		dec.Exhausted = append(dec.Exhausted, WindowHour)
	}
	if chip.MessagesSentDay >= dayLimit {
		dec.Exhausted = append(dec.Exhausted, WindowDay)
	}
	if len(dec.Exhausted) > 0 {
		dec.Reason = "limit"
		dec.RetryAt = retryAt(now, chip, dec.Exhausted)
		dec.Usage = usageOf(chip, hourLimit, dayLimit)
		return dec, nil
	}

	// Допуск: инкремент под тем же замком, счетчик не может уйти за лимит
	prevHourPct := UsagePercent(chip.MessagesSentHour, hourLimit)
	prevDayPct := UsagePercent(chip.MessagesSentDay, dayLimit)
	chip.MessagesSentHour++
	chip.MessagesSentDay++

	if err := l.store.UpdateSendCounters(ctx, chipID,
		chip.MessagesSentHour, chip.MessagesSentDay,
		chip.HourWindowStart, chip.DayWindowStart); err != nil {
		return nil, err
	}

	dec.Allowed = true
	dec.Usage = usageOf(chip, hourLimit, dayLimit)

	// Пересечение порога 80% — информационный сигнал, не отказ
	if prevHourPct < approachingPercent && dec.Usage.Hourly.Percent >= approachingPercent {
		dec.Approaching = append(dec.Approaching, WindowHour)
	}
	if prevDayPct < approachingPercent && dec.Usage.Daily.Percent >= approachingPercent {
		dec.Approaching = append(dec.Approaching, WindowDay)
	}

	return dec, nil
}

// GetStatus — текущее использование окон без инкремента.
func (l *Limiter) GetStatus(ctx context.Context, chipID string) (*Status, error) {
	mu := l.shard(chipID)
	mu.Lock()
	defer mu.Unlock()

	chip, err := l.store.LoadChip(ctx, chipID)
	if err != nil {
		return nil, err
	}
	rollover(l.now(), chip)

	level := trust.ClassifyLevel(chip.TrustScore)
	hourLimit, dayLimit := EffectiveLimits(chip.WarmupPhase, level)
	st := usageOf(chip, hourLimit, dayLimit)
	return &st, nil
}

func usageOf(chip *domain.ChipIdentity, hourLimit, dayLimit int) Status {
	return Status{
		Hourly: WindowUsage{
			Used:    chip.MessagesSentHour,
			Limit:   hourLimit,
			Percent: UsagePercent(chip.MessagesSentHour, hourLimit),
		},
		Daily: WindowUsage{
			Used:    chip.MessagesSentDay,
			Limit:   dayLimit,
			Percent: UsagePercent(chip.MessagesSentDay, dayLimit),
		},
	}
}

// retryAt — ближайший момент, когда исчерпанное окно откроется снова.
func retryAt(now time.Time, chip *domain.ChipIdentity, exhausted []Window) time.Time {
	var at time.Time
	for _, w := range exhausted {
		var t time.Time
		switch w {
		case WindowHour:
			t = chip.HourWindowStart.Add(hourWindow)
		case WindowDay:
			t = chip.DayWindowStart.Add(dayWindow)
		}
		if t.After(at) {
			at = t
		}
	}
	if at.Before(now) {
		at = now
	}
	return at
}

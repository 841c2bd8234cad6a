package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/chipfleet-control-plane/internal/anomaly"
	"github.com/xela07ax/chipfleet-control-plane/internal/audit"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/ratelimit"
	"github.com/xela07ax/chipfleet-control-plane/internal/trust"
	"go.uber.org/zap"
)

// ChipRepository — срез persistence-слоя, нужный горячему пути ядра.
type ChipRepository interface {
	LoadChip(ctx context.Context, id string) (*domain.ChipIdentity, error)
	GetBehaviorSnapshot(ctx context.Context, chipID string) (domain.BehaviorSnapshot, error)
	// RecordMessageOutcome инкрементирует поведенческий счетчик исхода
	// и таймстемпы активности/ошибки
	RecordMessageOutcome(ctx context.Context, chipID string, outcome domain.MessageOutcome, at time.Time) error
}

// ControlPlane — on-event ядро: каждое событие сообщения проходит через
// допуск и/или обновление счетчиков с пересчетом score и проходом детектора.
type ControlPlane struct {
	repo     ChipRepository
	limiter  *ratelimit.Limiter
	scorer   *trust.Scorer
	detector *anomaly.Detector
	trail    audit.Recorder
	metrics  *Metrics
	logger   *zap.Logger
}

func NewControlPlane(
	repo ChipRepository,
	limiter *ratelimit.Limiter,
	scorer *trust.Scorer,
	detector *anomaly.Detector,
	trail audit.Recorder,
	metrics *Metrics,
	logger *zap.Logger,
) *ControlPlane {
	cp := &ControlPlane{
		repo:     repo,
		limiter:  limiter,
		scorer:   scorer,
		detector: detector,
		trail:    trail,
		metrics:  metrics,
		logger:   logger.Named("core"),
	}

	// Каждый созданный алерт попадает в метрики и аудит-след
	detector.OnRaise(func(a *domain.Alert) {
		metrics.AlertsRaised.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		trail.Record(audit.Event{
			ID:      uuid.New().String(),
			ChipID:  a.ChipID,
			Kind:    audit.KindAlertRaised,
			Action:  string(a.Type),
			Outcome: string(a.Severity),
			Detail:  map[string]interface{}{"message": a.Message},
		})
	})
	return cp
}

// HandleSendAttempt отвечает на вопрос "можно ли этому чипу отправить
// сейчас". Инкремент и проверка — один атомарный шаг внутри лимитера.
// Отказ по лимиту — не инцидент: статус чипа не меняется.
func (cp *ControlPlane) HandleSendAttempt(ctx context.Context, chipID string) (*ratelimit.Decision, error) {
	dec, err := cp.limiter.Admit(ctx, chipID)
	if err != nil {
		return nil, err
	}

	outcome := "granted"
	if !dec.Allowed {
		outcome = "denied_" + dec.Reason
	}
	cp.metrics.AdmissionsTotal.WithLabelValues(outcome).Inc()

	cp.trail.Record(audit.Event{
		ID:      uuid.New().String(),
		TraceID: extractTraceID(ctx),
		ChipID:  chipID,
		Kind:    audit.KindAdmission,
		Action:  "send",
		Outcome: outcome,
		Detail: map[string]interface{}{
			"hour_used":  dec.Usage.Hourly.Used,
			"hour_limit": dec.Usage.Hourly.Limit,
			"day_used":   dec.Usage.Daily.Used,
			"day_limit":  dec.Usage.Daily.Limit,
		},
	})

	// Пересечение 80% окна — информационный алерт, отправку не блокирует
	for _, w := range dec.Approaching {
		if err := cp.detector.Raise(ctx, chipID, domain.AlertLimitApproaching,
			fmt.Sprintf("Usage of %s window crossed 80%%", w)); err != nil {
			cp.logger.Warn("failed to raise limit-approaching alert",
				zap.String("chip_id", chipID), zap.Error(err))
		}
	}

	return dec, nil
}

// RecordOutcome принимает событие провайдера по сообщению чипа:
// счетчик -> пересчет score -> проход детектора. Цепочка не транзакционна
// между чипами, внутри чипа каждая запись атомарна на уровне репозитория.
func (cp *ControlPlane) RecordOutcome(ctx context.Context, chipID string, outcome domain.MessageOutcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: message outcome %q", domain.ErrInvalidAction, outcome)
	}

	chip, err := cp.repo.LoadChip(ctx, chipID)
	if err != nil {
		return err
	}
	prevScore := chip.TrustScore

	if err := cp.repo.RecordMessageOutcome(ctx, chipID, outcome, time.Now()); err != nil {
		return err
	}

	newScore, err := cp.scorer.Recompute(ctx, chipID)
	if err != nil {
		return err
	}
	chip.TrustScore = newScore

	snap, err := cp.repo.GetBehaviorSnapshot(ctx, chipID)
	if err != nil {
		return err
	}
	if err := cp.detector.Sweep(ctx, chip, snap, prevScore); err != nil {
		// Алерты вторичны к учету события: логируем, но не роняем вызов
		cp.logger.Warn("detector sweep failed after outcome",
			zap.String("chip_id", chipID), zap.Error(err))
	}
	return nil
}

// ResolveAlert — операторское закрытие алерта с записью в аудит-след.
func (cp *ControlPlane) ResolveAlert(ctx context.Context, alertID, operator string, tag domain.ResolutionTag, notes string) (*domain.Alert, error) {
	alert, err := cp.detector.Resolve(ctx, alertID, operator, tag, notes)
	if err != nil {
		return nil, err
	}

	cp.trail.Record(audit.Event{
		ID:       uuid.New().String(),
		TraceID:  extractTraceID(ctx),
		ChipID:   alert.ChipID,
		Kind:     audit.KindAlertResolved,
		Action:   string(alert.Type),
		Operator: operator,
		Outcome:  string(tag),
		Detail:   map[string]interface{}{"notes": notes},
	})
	return alert, nil
}

// GetTrustSummary — score и производный уровень для API.
func (cp *ControlPlane) GetTrustSummary(ctx context.Context, chipID string) (float64, domain.TrustLevel, error) {
	chip, err := cp.repo.LoadChip(ctx, chipID)
	if err != nil {
		return 0, "", err
	}
	return chip.TrustScore, trust.ClassifyLevel(chip.TrustScore), nil
}

// GetRateLimitStatus — текущее использование окон без инкремента.
func (cp *ControlPlane) GetRateLimitStatus(ctx context.Context, chipID string) (*ratelimit.Status, error) {
	return cp.limiter.GetStatus(ctx, chipID)
}

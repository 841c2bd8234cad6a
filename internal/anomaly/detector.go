package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"go.uber.org/zap"
)

// Пороги детектора. Значения фиксированные: изменение порога — это
// изменение продуктового контракта, а не конфиг на горячую.
const (
	blockRateThreshold    = 0.15
	errorRateThreshold    = 0.10
	deliveryRateThreshold = 0.70
	responseRateThreshold = 0.05
	trustDropThreshold    = 10.0
	qualityTargetDelivery = 0.85
	outlierThreshold      = 0.8

	// HeartbeatTimeout — сколько молчания терпим до DISCONNECTED
	HeartbeatTimeout = 10 * time.Minute
)

// AlertStore — персистентный слой алертов. InsertAlert обязан быть
// атомарным check-then-insert по ключу (chip_id, type) среди открытых:
// дубль — это успешный no-op (created=false), не ошибка.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *domain.Alert) (created bool, err error)
	ListOpenAlerts(ctx context.Context, chipID string) ([]*domain.Alert, error)
	ResolveAlert(ctx context.Context, id, resolvedBy string, tag domain.ResolutionTag, notes string) (*domain.Alert, error)
}

// Detector сверяет поведенческие метрики с порогами и поднимает типизированные
// алерты. Автоснятия нет: восстановление метрики не закрывает алерт,
// резолв — только явное действие оператора.
type Detector struct {
	alerts AlertStore
	logger *zap.Logger

	// onRaise дергается при реально созданном алерте (метрики/аудит)
	onRaise func(a *domain.Alert)
}

func NewDetector(alerts AlertStore, logger *zap.Logger) *Detector {
	return &Detector{alerts: alerts, logger: logger.Named("anomaly")}
}

// OnRaise регистрирует хук создания алерта (prometheus + audit trail).
func (d *Detector) OnRaise(fn func(a *domain.Alert)) { d.onRaise = fn }

// Raise поднимает алерт типа t для чипа. Если открытый алерт того же
// типа уже есть, вторая сработка молча схлопывается (дедуп по типу,
// а не по значению метрики).
func (d *Detector) Raise(ctx context.Context, chipID string, t domain.AlertType, message string) error {
	alert := &domain.Alert{
		ID:             uuid.New().String(),
		ChipID:         chipID,
		Type:           t,
		Severity:       t.Severity(),
		Message:        message,
		Recommendation: t.Recommendation(),
		CreatedAt:      time.Now(),
	}

	created, err := d.alerts.InsertAlert(ctx, alert)
	if err != nil {
		return err
	}
	if !created {
		return nil // уже есть открытый такого типа
	}

	d.logger.Info("alert raised",
		zap.String("chip_id", chipID),
		zap.String("type", string(t)),
		zap.String("severity", string(t.Severity())))
	if d.onRaise != nil {
		d.onRaise(alert)
	}
	return nil
}

// Sweep — один проход детектора по метрикам чипа. prevScore — score до
// пересчета (для тренда падения доверия). Ошибка любой проверки не
// прерывает остальные: алерты независимы.
func (d *Detector) Sweep(ctx context.Context, chip *domain.ChipIdentity, snap domain.BehaviorSnapshot, prevScore float64) error {
	var firstErr error
	raise := func(t domain.AlertType, msg string) {
		if err := d.Raise(ctx, chip.ID, t, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if snap.BlockRate != nil && *snap.BlockRate > blockRateThreshold {
		raise(domain.AlertHighBlockRate,
			fmt.Sprintf("Block rate %.0f%% exceeds %.0f%% threshold", *snap.BlockRate*100, blockRateThreshold*100))
	}
	if snap.ErrorRate != nil && *snap.ErrorRate > errorRateThreshold {
		raise(domain.AlertFrequentErrors,
			fmt.Sprintf("Error rate %.0f%% exceeds %.0f%% threshold", *snap.ErrorRate*100, errorRateThreshold*100))
	}
	if snap.DeliveryRate != nil && *snap.DeliveryRate < deliveryRateThreshold {
		raise(domain.AlertLowDelivery,
			fmt.Sprintf("Delivery rate %.0f%% below %.0f%% threshold", *snap.DeliveryRate*100, deliveryRateThreshold*100))
	}
	if snap.ResponseRate != nil && *snap.ResponseRate < responseRateThreshold {
		raise(domain.AlertLowResponse,
			fmt.Sprintf("Response rate %.1f%% below %.1f%% threshold", *snap.ResponseRate*100, responseRateThreshold*100))
	}
	if prevScore-chip.TrustScore > trustDropThreshold {
		raise(domain.AlertTrustFalling,
			fmt.Sprintf("Trust score fell from %.0f to %.0f since last evaluation", prevScore, chip.TrustScore))
	}
	if snap.OutlierScore != nil && *snap.OutlierScore > outlierThreshold {
		raise(domain.AlertAnomalousBehavior,
			fmt.Sprintf("Behavioral outlier score %.2f exceeds %.2f", *snap.OutlierScore, outlierThreshold))
	}

	// Целевое качество действует с фазы engajamento и дальше
	if chip.WarmupPhase != nil && phaseAtLeastEngajamento(*chip.WarmupPhase) &&
		snap.DeliveryRate != nil && *snap.DeliveryRate < qualityTargetDelivery {
		raise(domain.AlertQualityTargetMissed,
			fmt.Sprintf("Delivery %.0f%% below phase quality target %.0f%%", *snap.DeliveryRate*100, qualityTargetDelivery*100))
	}

	return firstErr
}

func phaseAtLeastEngajamento(p domain.WarmupPhase) bool {
	switch p {
	case domain.PhaseEngajamento, domain.PhaseExpansao, domain.PhaseOperacao:
		return true
	case domain.PhaseRepouso, domain.PhasePrimeirosContatos, domain.PhaseConversasLeves:
		return false
	}
	return false
}

// CheckHeartbeat поднимает DISCONNECTED при молчании устройства.
// probeErr — результат активной проверки провайдера (nil, если пинг прошел).
func (d *Detector) CheckHeartbeat(ctx context.Context, chip *domain.ChipIdentity, now time.Time, probeErr error) error {
	stale := chip.LastActivityAt == nil || now.Sub(*chip.LastActivityAt) > HeartbeatTimeout
	if !stale || probeErr == nil {
		return nil
	}
	return d.Raise(ctx, chip.ID, domain.AlertDisconnected,
		fmt.Sprintf("No heartbeat for over %s and probe failed: %v", HeartbeatTimeout, probeErr))
}

// HasOpenCritical — есть ли у чипа открытый critical-алерт
// (блокирует выпуск из фазы прогрева).
func (d *Detector) HasOpenCritical(ctx context.Context, chipID string) (bool, error) {
	open, err := d.alerts.ListOpenAlerts(ctx, chipID)
	if err != nil {
		return false, err
	}
	for _, a := range open {
		if a.Severity == domain.SeverityCritical {
			return true, nil
		}
	}
	return false, nil
}

// Resolve — воркфлоу оператора. Повторный резолв уже закрытого алерта —
// идемпотентный успех (таймстемпы не трогаются); несуществующий id — ошибка.
func (d *Detector) Resolve(ctx context.Context, alertID, operator string, tag domain.ResolutionTag, notes string) (*domain.Alert, error) {
	if tag != domain.ResolutionCorrected && tag != domain.ResolutionFalsePositive {
		return nil, fmt.Errorf("%w: unknown resolution tag %q", domain.ErrInvalidAction, tag)
	}

	alert, err := d.alerts.ResolveAlert(ctx, alertID, operator, tag, notes)
	if err != nil {
		return nil, err
	}

	d.logger.Info("alert resolved",
		zap.String("alert_id", alertID),
		zap.String("operator", operator),
		zap.String("tag", string(tag)))
	return alert, nil
}

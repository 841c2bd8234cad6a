package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/chipfleet-control-plane/internal/anomaly"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/infra"
	"github.com/xela07ax/chipfleet-control-plane/internal/lifecycle"
	"github.com/xela07ax/chipfleet-control-plane/internal/ratelimit"
	"github.com/xela07ax/chipfleet-control-plane/internal/trust"
	"github.com/xela07ax/chipfleet-control-plane/internal/warmup"
	"go.uber.org/zap"
)

// FleetRepository — persistence-срез для периодического обхода.
type FleetRepository interface {
	ListChips(ctx context.Context, filter domain.ChipFilter) ([]*domain.ChipIdentity, error)
	SaveChip(ctx context.Context, id string, patch domain.ChipPatch) error
	GetBehaviorSnapshot(ctx context.Context, chipID string) (domain.BehaviorSnapshot, error)
	// ListPausedChipIDs — для прогрева Redis-кэша паузы на старте
	ListPausedChipIDs(ctx context.Context) ([]string, error)
}

// Prober — активная проверка связи чипа с провайдером.
type Prober interface {
	Ping(ctx context.Context, chipID string) error
}

// Monitor — on-schedule контур: периодический пересчет score, выпуск из
// фаз, контроль heartbeat. Несколько инстансов договариваются через
// SetNX-блокировку: обход делает один.
type Monitor struct {
	repo     FleetRepository
	rdb      *redis.Client
	scorer   *trust.Scorer
	detector *anomaly.Detector
	metrics  *Metrics
	logger   *zap.Logger
	prober   Prober

	interval  time.Duration
	lockTTL   time.Duration
	batchSize int

	// now подменяется в тестах
	now func() time.Time
}

func NewMonitor(
	repo FleetRepository,
	rdb *redis.Client,
	scorer *trust.Scorer,
	detector *anomaly.Detector,
	prober Prober,
	metrics *Metrics,
	logger *zap.Logger,
	cfg infra.MonitorConfig,
) *Monitor {
	return &Monitor{
		repo:      repo,
		rdb:       rdb,
		scorer:    scorer,
		detector:  detector,
		prober:    prober,
		metrics:   metrics,
		logger:    logger.Named("monitor"),
		interval:  cfg.Interval,
		lockTTL:   cfg.LockTTL,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

// Run крутит обходы до отмены контекста.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("fleet monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("fleet monitor stopped")
			return
		case <-ticker.C:
			if err := m.SweepOnce(ctx); err != nil {
				m.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce — один полный обход парка под распределенной блокировкой.
func (m *Monitor) SweepOnce(ctx context.Context) error {
	ok, err := m.rdb.SetNX(ctx, infra.RedisKeyLockMonitor, "sweeping", m.lockTTL).Result()
	if err != nil {
		m.logger.Warn("monitor lock unavailable, proceeding solo", zap.Error(err))
	} else if !ok {
		return nil // другой инстанс уже обходит парк
	}

	start := m.now()
	defer func() {
		m.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	// Терминальные статусы не обходим: Control Plane ими не управляет
	chips, err := m.repo.ListChips(ctx, domain.ChipFilter{
		Status: []domain.ChipStatus{
			domain.StatusWarming, domain.StatusReady, domain.StatusActive,
			domain.StatusDegraded, domain.StatusPaused, domain.StatusOffline,
		},
		Limit: m.batchSize,
	})
	if err != nil {
		return err
	}

	byStatus := map[domain.ChipStatus]int{}
	for _, chip := range chips {
		byStatus[chip.Status]++
		// Чипы независимы: сбой на одном не прерывает обход
		if err := m.evaluateChip(ctx, chip); err != nil {
			m.logger.Warn("chip evaluation failed",
				zap.String("chip_id", chip.ID), zap.Error(err))
		}
	}
	for status, n := range byStatus {
		m.metrics.FleetSize.WithLabelValues(string(status)).Set(float64(n))
	}

	m.logger.Debug("sweep finished",
		zap.Int("chips", len(chips)),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (m *Monitor) evaluateChip(ctx context.Context, chip *domain.ChipIdentity) error {
	now := m.now()
	prevScore := chip.TrustScore

	// 1. Пересчет доверия
	snap, err := m.repo.GetBehaviorSnapshot(ctx, chip.ID)
	if err != nil {
		return err
	}
	score := trust.ComputeScore(snap)
	level := trust.ClassifyLevel(score)

	patch := domain.ChipPatch{TrustScore: &score}

	// 2. Счетчик дней фазы: окно дня локально чипу, от старта фазы
	if chip.WarmupPhase != nil && chip.PhaseStartedAt != nil {
		days := int(now.Sub(*chip.PhaseStartedAt).Hours() / 24)
		if days > chip.WarmupDay {
			patch.WarmupDay = &days
			chip.WarmupDay = days
		}
	}

	// 3. Актуализируем витринные лимиты (admission считает их сам)
	hourly, daily := ratelimit.EffectiveLimits(chip.WarmupPhase, level)
	patch.HourlyLimit = &hourly
	patch.DailyLimit = &daily

	if err := m.repo.SaveChip(ctx, chip.ID, patch); err != nil {
		return err
	}
	chip.TrustScore = score

	// 4. Детектор по порогам и тренду
	if err := m.detector.Sweep(ctx, chip, snap, prevScore); err != nil {
		m.logger.Warn("detector sweep error", zap.String("chip_id", chip.ID), zap.Error(err))
	}

	// 5. Heartbeat: активная проба только при подозрительном молчании
	if chip.LastActivityAt == nil || now.Sub(*chip.LastActivityAt) > anomaly.HeartbeatTimeout {
		probeErr := m.prober.Ping(ctx, chip.ID)
		if err := m.detector.CheckHeartbeat(ctx, chip, now, probeErr); err != nil {
			m.logger.Warn("heartbeat check error", zap.String("chip_id", chip.ID), zap.Error(err))
		}
	}

	// 6. Выпуск из фазы (пауза не растет по фазам)
	if chip.Status == domain.StatusPaused {
		return nil
	}
	hasCritical, err := m.detector.HasOpenCritical(ctx, chip.ID)
	if err != nil {
		return err
	}
	switch warmup.Evaluate(chip, level, hasCritical) {
	case warmup.Graduate:
		next, _ := warmup.Next(*chip.WarmupPhase)
		if err := m.repo.SaveChip(ctx, chip.ID, lifecycle.PhaseTransitionPatch(chip, next)); err != nil {
			return err
		}
		m.logger.Info("chip graduated",
			zap.String("chip_id", chip.ID),
			zap.String("from", string(*chip.WarmupPhase)),
			zap.String("to", string(next)))
	case warmup.Stall:
		spec, _ := warmup.SpecFor(chip.WarmupPhase)
		if err := m.detector.Raise(ctx, chip.ID, domain.AlertPhaseStalled,
			"Phase "+string(spec.Phase)+" graduation criteria not met after minimum days"); err != nil {
			return err
		}
	case warmup.Hold, warmup.Inert:
		// ничего не делаем
	}
	return nil
}

// WarmPauseCache заливает множество пауз из БД в Redis на старте.
func (m *Monitor) WarmPauseCache(ctx context.Context, pm *PauseManager) error {
	ids, err := m.repo.ListPausedChipIDs(ctx)
	if err != nil {
		return err
	}
	return pm.WarmCache(ctx, ids)
}

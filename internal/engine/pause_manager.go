package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/chipfleet-control-plane/internal/infra"
	"go.uber.org/zap"
)

// PauseManager держит L1 (RAM) кэш чипов на паузе, чтобы admission-проверка
// не ходила в Redis/БД на каждый запрос. Источник истины — Postgres,
// Redis-set — L2 для быстрого старта, Pub/Sub — доставка изменений.
type PauseManager struct {
	mu          sync.RWMutex
	pausedChips map[string]struct{}
	rdb         *redis.Client
	logger      *zap.Logger
}

func NewPauseManager(rdb *redis.Client, logger *zap.Logger) *PauseManager {
	return &PauseManager{
		pausedChips: make(map[string]struct{}),
		rdb:         rdb,
		logger:      logger.Named("pause-manager"),
	}
}

// Init загружает текущее множество пауз при старте сервиса.
func (m *PauseManager) Init(ctx context.Context) error {
	chips, err := m.rdb.SMembers(ctx, infra.RedisKeyPausedChips).Result()
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, id := range chips {
		m.pausedChips[id] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// WarmCache заливает множество пауз из БД в Redis, если Redis пуст
// (например, после сброса кэша). SetNX гарантирует, что греет один инстанс.
func (m *PauseManager) WarmCache(ctx context.Context, ids []string) error {
	// 1. Обновляем локальный кэш (L1)
	m.mu.Lock()
	m.pausedChips = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m.pausedChips[id] = struct{}{}
	}
	m.mu.Unlock()

	// 2. Распределенная блокировка: только один инстанс обновляет Redis
	ok, err := m.rdb.SetNX(ctx, infra.RedisKeyLockPaused, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // либо ошибка сети, либо другой уже греет кэш
	}

	count, err := m.rdb.SCard(ctx, infra.RedisKeyPausedChips).Result()
	if err != nil {
		count = 0
		m.logger.Warn("could not check Redis set size, proceeding with warm-up", zap.Error(err))
	}

	if count == 0 && len(ids) > 0 {
		m.logger.Info("Redis paused-set is empty, performing warm-up from DB...",
			zap.Int("count", len(ids)))
		pipe := m.rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, infra.RedisKeyPausedChips, id)
		}
		_, err = pipe.Exec(ctx)
		return err
	}
	return nil
}

// StartListener подписывается на сигналы паузы в реальном времени.
// Формат сообщения: "chipID:on" или "chipID:off".
func (m *PauseManager) StartListener(ctx context.Context) {
	pubsub := m.rdb.Subscribe(ctx, infra.RedisChanPauseSignal)
	ch := pubsub.Channel()

	for msg := range ch {
		m.processSignal(msg.Payload)
	}
}

func (m *PauseManager) processSignal(payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := strings.CutSuffix(payload, ":on"); ok {
		m.pausedChips[id] = struct{}{}
	} else if id, ok := strings.CutSuffix(payload, ":off"); ok {
		delete(m.pausedChips, id)
	}
}

// IsPaused — быстрая проверка для admission control.
func (m *PauseManager) IsPaused(chipID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pausedChips[chipID]
	return ok
}

// SetPaused обновляет Redis-set и транслирует сигнал остальным инстансам.
// Запись в БД — ответственность вызывающего (lifecycle controller).
func (m *PauseManager) SetPaused(ctx context.Context, chipID string, paused bool) error {
	signal := ":off"
	if paused {
		signal = ":on"
		if err := m.rdb.SAdd(ctx, infra.RedisKeyPausedChips, chipID).Err(); err != nil {
			return err
		}
	} else {
		if err := m.rdb.SRem(ctx, infra.RedisKeyPausedChips, chipID).Err(); err != nil {
			return err
		}
	}

	// Локальный кэш правим сразу, не дожидаясь своего же Pub/Sub
	m.processSignal(chipID + signal)

	if err := m.rdb.Publish(ctx, infra.RedisChanPauseSignal, chipID+signal).Err(); err != nil {
		// Сигнал не дошел — остальные инстансы подтянут состояние на рестарте
		m.logger.Warn("pause signal delivery failed",
			zap.String("chip_id", chipID), zap.Error(err))
	}
	return nil
}

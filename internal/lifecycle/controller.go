package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/chipfleet-control-plane/internal/audit"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/infra"
	"github.com/xela07ax/chipfleet-control-plane/internal/ratelimit"
	"github.com/xela07ax/chipfleet-control-plane/internal/trust"
	"github.com/xela07ax/chipfleet-control-plane/internal/warmup"
	"go.uber.org/zap"
)

// Action — закрытый перечень массовых действий оператора.
type Action string

const (
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionPromote Action = "promote"
)

func (a Action) valid() bool {
	switch a {
	case ActionPause, ActionResume, ActionPromote:
		return true
	}
	return false
}

// describe — человекочитаемое описание для шага подтверждения.
func (a Action) describe(count int) string {
	switch a {
	case ActionPause:
		return fmt.Sprintf("Pause %d chip(s): sends will be denied until resumed", count)
	case ActionResume:
		return fmt.Sprintf("Resume %d chip(s): each returns to its pre-pause status", count)
	case ActionPromote:
		return fmt.Sprintf("Force-promote %d chip(s) to the next warmup phase, bypassing graduation criteria", count)
	}
	return ""
}

// ChipStore — persistence-коллаборатор контроллера.
type ChipStore interface {
	LoadChip(ctx context.Context, id string) (*domain.ChipIdentity, error)
	SaveChip(ctx context.Context, id string, patch domain.ChipPatch) error
}

// PauseSignaler — трансляция паузы в runtime (engine.PauseManager).
type PauseSignaler interface {
	SetPaused(ctx context.Context, chipID string, paused bool) error
}

// MetricsSink — счетчики операторских действий.
type MetricsSink interface {
	IncLifecycleAction(action, outcome string)
}

// TokenStore — одноразовые токены подтверждения с TTL.
type TokenStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take атомарно читает и удаляет токен; ok=false — истек или не было
	Take(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// RedisTokenStore — боевая реализация на SET EX / GETDEL.
type RedisTokenStore struct {
	rdb *redis.Client
}

func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisTokenStore) Take(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

type Result string

const (
	ResultSucceeded Result = "succeeded"
	ResultSkipped   Result = "skipped"
	ResultFailed    Result = "failed"
)

// Outcome — исход действия по одному чипу.
type Outcome struct {
	ID     string `json:"id"`
	Result Result `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// Failure — элемент списка failed в ответе bulk-операции.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult — структурированный частичный успех: падение одного чипа
// не откатывает и не прерывает остальных.
type BulkResult struct {
	Succeeded []string  `json:"succeeded"`
	Skipped   []string  `json:"skipped"`
	Failed    []Failure `json:"failed"`
}

// Proposal — первая фаза массового действия: описание и токен.
// Исполнение начнется только после явного Execute с этим токеном.
type Proposal struct {
	Token       string    `json:"token"`
	Action      Action    `json:"action"`
	ChipIDs     []string  `json:"chip_ids"`
	Description string    `json:"description"`
	Affected    int       `json:"affected"`
	ProposedBy  string    `json:"proposed_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Controller применяет pause/resume/promote к набору чипов.
// Подтверждение — двухфазная команда через Redis-токен, а не UI-состояние.
type Controller struct {
	repo    ChipStore
	pause   PauseSignaler
	tokens  TokenStore
	trail   audit.Recorder
	metrics MetricsSink
	logger  *zap.Logger

	concurrency int
	tokenTTL    time.Duration
}

func NewController(
	repo ChipStore,
	pause PauseSignaler,
	tokens TokenStore,
	trail audit.Recorder,
	metrics MetricsSink,
	logger *zap.Logger,
	concurrency int,
	tokenTTL time.Duration,
) *Controller {
	if concurrency <= 0 {
		concurrency = 8
	}
	if tokenTTL <= 0 {
		tokenTTL = 5 * time.Minute
	}
	return &Controller{
		repo:        repo,
		pause:       pause,
		tokens:      tokens,
		trail:       trail,
		metrics:     metrics,
		logger:      logger.Named("lifecycle"),
		concurrency: concurrency,
		tokenTTL:    tokenTTL,
	}
}

// Propose валидирует запрос и выдает токен подтверждения. До Execute
// ни один чип не тронут (валидация никогда не применяется частично).
func (c *Controller) Propose(ctx context.Context, ids []string, action Action, operator string) (*Proposal, error) {
	if len(ids) == 0 {
		return nil, domain.ErrEmptySelection
	}
	if !action.valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}

	p := &Proposal{
		Token:       uuid.New().String(),
		Action:      action,
		ChipIDs:     ids,
		Description: action.describe(len(ids)),
		Affected:    len(ids),
		ProposedBy:  operator,
		CreatedAt:   time.Now(),
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.Put(ctx, infra.BulkTokenKey(p.Token), raw, c.tokenTTL); err != nil {
		return nil, domain.NewStorageError("bulk.propose", err)
	}
	return p, nil
}

// Execute потребляет токен (одноразово, GETDEL) и раскатывает действие
// по чипам с ограниченной шириной. Кросс-чиповой атомарности нет намеренно.
func (c *Controller) Execute(ctx context.Context, token, operator string) (*BulkResult, error) {
	raw, ok, err := c.tokens.Take(ctx, infra.BulkTokenKey(token))
	if err != nil {
		return nil, domain.NewStorageError("bulk.execute", err)
	}
	if !ok {
		return nil, domain.ErrConfirmationExpired
	}

	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("corrupt confirmation payload: %w", err)
	}

	c.logger.Info("bulk action confirmed",
		zap.String("action", string(p.Action)),
		zap.Int("affected", p.Affected),
		zap.String("operator", operator))

	outcomes := make([]Outcome, len(p.ChipIDs))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, id := range p.ChipIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = c.applyOne(ctx, id, p.Action, operator)
		}(i, id)
	}
	wg.Wait()

	// Пустые слайсы вместо nil, чтобы фронт получил [] в JSON
	res := &BulkResult{Succeeded: []string{}, Skipped: []string{}, Failed: []Failure{}}
	for _, o := range outcomes {
		switch o.Result {
		case ResultSucceeded:
			res.Succeeded = append(res.Succeeded, o.ID)
		case ResultSkipped:
			res.Skipped = append(res.Skipped, o.ID)
		case ResultFailed:
			res.Failed = append(res.Failed, Failure{ID: o.ID, Reason: o.Reason})
		}
	}

	c.trail.Record(audit.Event{
		ID:       uuid.New().String(),
		Kind:     audit.KindBulkAction,
		Action:   string(p.Action),
		Operator: operator,
		Outcome:  "COMPLETED",
		Detail: map[string]interface{}{
			"succeeded": len(res.Succeeded),
			"skipped":   len(res.Skipped),
			"failed":    len(res.Failed),
		},
	})
	return res, nil
}

// PauseChip / ResumeChip / PromoteChip — одиночные действия операторского API,
// без шага подтверждения (подтверждение — свойство массового пути).
func (c *Controller) PauseChip(ctx context.Context, id, operator string) Outcome {
	return c.applyOne(ctx, id, ActionPause, operator)
}

func (c *Controller) ResumeChip(ctx context.Context, id, operator string) Outcome {
	return c.applyOne(ctx, id, ActionResume, operator)
}

func (c *Controller) PromoteChip(ctx context.Context, id, operator string) Outcome {
	return c.applyOne(ctx, id, ActionPromote, operator)
}

func (c *Controller) applyOne(ctx context.Context, id string, action Action, operator string) Outcome {
	out := c.doApply(ctx, id, action)

	if c.metrics != nil {
		c.metrics.IncLifecycleAction(string(action), string(out.Result))
	}
	c.trail.Record(audit.Event{
		ID:       uuid.New().String(),
		ChipID:   id,
		Kind:     audit.KindTransition,
		Action:   string(action),
		Operator: operator,
		Outcome:  string(out.Result),
		Detail:   map[string]interface{}{"reason": out.Reason},
	})
	if out.Result == ResultFailed {
		c.logger.Warn("lifecycle action failed",
			zap.String("chip_id", id),
			zap.String("action", string(action)),
			zap.String("reason", out.Reason))
	}
	return out
}

func (c *Controller) doApply(ctx context.Context, id string, action Action) Outcome {
	chip, err := c.repo.LoadChip(ctx, id)
	if err != nil {
		return Outcome{ID: id, Result: ResultFailed, Reason: err.Error()}
	}

	switch action {
	case ActionPause:
		return c.pauseOne(ctx, chip)
	case ActionResume:
		return c.resumeOne(ctx, chip)
	case ActionPromote:
		return c.promoteOne(ctx, chip)
	}
	return Outcome{ID: id, Result: ResultFailed, Reason: domain.ErrInvalidAction.Error()}
}

func (c *Controller) pauseOne(ctx context.Context, chip *domain.ChipIdentity) Outcome {
	if chip.Status.IsTerminal() {
		// Конфликт, не валидация: остальные чипы батча не страдают
		return Outcome{ID: chip.ID, Result: ResultFailed, Reason: fmt.Sprintf("%s: %s", domain.ErrTerminalStatus, chip.Status)}
	}
	if chip.Status == domain.StatusPaused {
		return Outcome{ID: chip.ID, Result: ResultSkipped, Reason: "already paused"}
	}

	paused := domain.StatusPaused
	prev := chip.Status
	if err := c.repo.SaveChip(ctx, chip.ID, domain.ChipPatch{Status: &paused, PreviousStatus: &prev}); err != nil {
		return Outcome{ID: chip.ID, Result: ResultFailed, Reason: err.Error()}
	}
	if err := c.pause.SetPaused(ctx, chip.ID, true); err != nil {
		// БД уже обновлена; runtime догонит на рестарте, но оператору сообщаем
		c.logger.Warn("pause runtime signal failed", zap.String("chip_id", chip.ID), zap.Error(err))
	}
	return Outcome{ID: chip.ID, Result: ResultSucceeded}
}

func (c *Controller) resumeOne(ctx context.Context, chip *domain.ChipIdentity) Outcome {
	if chip.Status != domain.StatusPaused {
		return Outcome{ID: chip.ID, Result: ResultSkipped, Reason: "not paused"}
	}

	// Возвращаем статус, который был до паузы; ready — если не знаем.
	// Счетчики и score не трогаем: resume не амнистия.
	restored := chip.PreviousStatus
	if restored == "" || restored == domain.StatusPaused {
		restored = domain.StatusReady
	}
	var cleared domain.ChipStatus
	if err := c.repo.SaveChip(ctx, chip.ID, domain.ChipPatch{Status: &restored, PreviousStatus: &cleared}); err != nil {
		return Outcome{ID: chip.ID, Result: ResultFailed, Reason: err.Error()}
	}
	if err := c.pause.SetPaused(ctx, chip.ID, false); err != nil {
		c.logger.Warn("resume runtime signal failed", zap.String("chip_id", chip.ID), zap.Error(err))
	}
	return Outcome{ID: chip.ID, Result: ResultSucceeded}
}

// promoteOne — принудительный перевод в следующую фазу, минуя критерии
// выпуска (явный операторский override). На терминальной фазе — skipped.
func (c *Controller) promoteOne(ctx context.Context, chip *domain.ChipIdentity) Outcome {
	if chip.Status.IsTerminal() {
		return Outcome{ID: chip.ID, Result: ResultFailed, Reason: fmt.Sprintf("%s: %s", domain.ErrTerminalStatus, chip.Status)}
	}

	var next domain.WarmupPhase
	if chip.WarmupPhase == nil {
		// Прогрев еще не начат — promote запускает его с первой фазы
		next = warmup.First()
	} else {
		n, ok := warmup.Next(*chip.WarmupPhase)
		if !ok {
			return Outcome{ID: chip.ID, Result: ResultSkipped, Reason: "already at terminal phase"}
		}
		next = n
	}

	if err := c.repo.SaveChip(ctx, chip.ID, PhaseTransitionPatch(chip, next)); err != nil {
		return Outcome{ID: chip.ID, Result: ResultFailed, Reason: err.Error()}
	}
	return Outcome{ID: chip.ID, Result: ResultSucceeded}
}

// PhaseTransitionPatch собирает единый патч перевода чипа в фазу next:
// обнуление дней, новые лимиты из фазы и текущего уровня, статус warming
// по пути и active на выходе в operacao. Используется и ручным promote,
// и автоматическим выпуском из монитора.
func PhaseTransitionPatch(chip *domain.ChipIdentity, next domain.WarmupPhase) domain.ChipPatch {
	level := trust.ClassifyLevel(chip.TrustScore)
	hourly, daily := ratelimit.EffectiveLimits(&next, level)

	day := 0
	now := time.Now()
	patch := domain.ChipPatch{
		WarmupPhase:    &next,
		WarmupDay:      &day,
		PhaseStartedAt: &now,
		HourlyLimit:    &hourly,
		DailyLimit:     &daily,
	}

	// Пауза переживает смену фазы: promote не снимает паузу молча
	if chip.Status != domain.StatusPaused {
		status := domain.StatusWarming
		if next == warmup.Terminal() {
			status = domain.StatusActive
		}
		patch.Status = &status
	}
	return patch
}

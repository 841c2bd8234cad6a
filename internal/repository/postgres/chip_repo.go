package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/infra"
)

const chipColumns = `id, phone_number, status, previous_status, trust_score,
	warmup_phase, warmup_day, phase_started_at, hourly_limit, daily_limit,
	messages_sent_hour, messages_sent_day, hour_window_start, day_window_start,
	last_activity_at, last_error_at, created_at, updated_at`

// FleetRepo — репозиторий Control Plane поверх pgxpool.
// Методы по чипам здесь, по алертам — в alert_repo.go.
type FleetRepo struct {
	pool *pgxpool.Pool
}

func NewFleetRepo(ctx context.Context, cfg infra.DatabaseConfig) (*FleetRepo, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool init: %w", err)
	}
	return &FleetRepo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте.
func (r *FleetRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *FleetRepo) Close() {
	r.pool.Close()
}

func scanChip(row pgx.Row) (*domain.ChipIdentity, error) {
	var c domain.ChipIdentity
	var prevStatus, phase *string

	err := row.Scan(
		&c.ID, &c.PhoneNumber, &c.Status, &prevStatus, &c.TrustScore,
		&phase, &c.WarmupDay, &c.PhaseStartedAt, &c.HourlyLimit, &c.DailyLimit,
		&c.MessagesSentHour, &c.MessagesSentDay, &c.HourWindowStart, &c.DayWindowStart,
		&c.LastActivityAt, &c.LastErrorAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Маппим NULL значения в доменные типы
	if prevStatus != nil {
		c.PreviousStatus = domain.ChipStatus(*prevStatus)
	}
	if phase != nil {
		p := domain.WarmupPhase(*phase)
		c.WarmupPhase = &p
	}
	return &c, nil
}

func (r *FleetRepo) LoadChip(ctx context.Context, id string) (*domain.ChipIdentity, error) {
	query := `SELECT ` + chipColumns + ` FROM chips WHERE id = $1`

	chip, err := scanChip(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChipNotFound
		}
		return nil, domain.NewStorageError("chips.load", err)
	}
	return chip, nil
}

func (r *FleetRepo) ListChips(ctx context.Context, filter domain.ChipFilter) ([]*domain.ChipIdentity, error) {
	query := `SELECT ` + chipColumns + ` FROM chips`

	var args []interface{}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, statuses)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("chips.list", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	chips := make([]*domain.ChipIdentity, 0)
	for rows.Next() {
		chip, err := scanChip(rows)
		if err != nil {
			return nil, domain.NewStorageError("chips.scan", err)
		}
		chips = append(chips, chip)
	}
	if err = rows.Err(); err != nil {
		return nil, domain.NewStorageError("chips.iterate", err)
	}
	return chips, nil
}

// SaveChip пишет только заполненные поля патча (partial update).
func (r *FleetRepo) SaveChip(ctx context.Context, id string, p domain.ChipPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.PreviousStatus != nil {
		// Пустой статус означает сброс в NULL (после resume)
		if *p.PreviousStatus == "" {
			sets = append(sets, "previous_status = NULL")
		} else {
			add("previous_status", string(*p.PreviousStatus))
		}
	}
	if p.TrustScore != nil {
		add("trust_score", *p.TrustScore)
	}
	if p.WarmupPhase != nil {
		add("warmup_phase", string(*p.WarmupPhase))
	}
	if p.WarmupDay != nil {
		add("warmup_day", *p.WarmupDay)
	}
	if p.PhaseStartedAt != nil {
		add("phase_started_at", *p.PhaseStartedAt)
	}
	if p.HourlyLimit != nil {
		add("hourly_limit", *p.HourlyLimit)
	}
	if p.DailyLimit != nil {
		add("daily_limit", *p.DailyLimit)
	}
	if p.LastActivityAt != nil {
		add("last_activity_at", *p.LastActivityAt)
	}
	if p.LastErrorAt != nil {
		add("last_error_at", *p.LastErrorAt)
	}

	query := fmt.Sprintf(`UPDATE chips SET %s WHERE id = $1`, strings.Join(sets, ", "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return domain.NewStorageError("chips.save", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChipNotFound
	}
	return nil
}

// UpdateSendCounters пишет счетчики окон отправки одним запросом.
// Сериализацию по чипу обеспечивает лимитер, здесь только персистентность.
func (r *FleetRepo) UpdateSendCounters(ctx context.Context, id string, sentHour, sentDay int, hourStart, dayStart time.Time) error {
	query := `UPDATE chips
	          SET messages_sent_hour = $1, messages_sent_day = $2,
	              hour_window_start = $3, day_window_start = $4,
	              updated_at = NOW()
	          WHERE id = $5`

	tag, err := r.pool.Exec(ctx, query, sentHour, sentDay, hourStart, dayStart, id)
	if err != nil {
		return domain.NewStorageError("chips.counters", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChipNotFound
	}
	return nil
}

// RecordMessageOutcome атомарно инкрементирует поведенческий счетчик
// исхода сообщения и таймстемпы активности.
func (r *FleetRepo) RecordMessageOutcome(ctx context.Context, chipID string, outcome domain.MessageOutcome, at time.Time) error {
	var query string
	switch outcome {
	case domain.OutcomeSent:
		query = `UPDATE chips SET sent_count = sent_count + 1, last_activity_at = $2, updated_at = NOW() WHERE id = $1`
	case domain.OutcomeDelivered:
		query = `UPDATE chips SET delivered_count = delivered_count + 1, last_activity_at = $2, updated_at = NOW() WHERE id = $1`
	case domain.OutcomeBlocked:
		query = `UPDATE chips SET blocked_count = blocked_count + 1, last_activity_at = $2, updated_at = NOW() WHERE id = $1`
	case domain.OutcomeErrored:
		query = `UPDATE chips SET error_count = error_count + 1, last_error_at = $2, updated_at = NOW() WHERE id = $1`
	case domain.OutcomeResponded:
		query = `UPDATE chips SET response_count = response_count + 1, last_activity_at = $2, updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("%w: message outcome %q", domain.ErrInvalidAction, outcome)
	}

	tag, err := r.pool.Exec(ctx, query, chipID, at)
	if err != nil {
		return domain.NewStorageError("chips.outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChipNotFound
	}
	return nil
}

// GetBehaviorSnapshot считает нормализованные метрики из счетчиков.
// Нулевой знаменатель — это "данных нет" (nil), а не деление на ноль.
func (r *FleetRepo) GetBehaviorSnapshot(ctx context.Context, chipID string) (domain.BehaviorSnapshot, error) {
	query := `SELECT sent_count, delivered_count, blocked_count, error_count, response_count, outlier_score
	          FROM chips WHERE id = $1`

	var sent, delivered, blocked, errCount, responses int64
	var outlier *float64
	err := r.pool.QueryRow(ctx, query, chipID).Scan(&sent, &delivered, &blocked, &errCount, &responses, &outlier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BehaviorSnapshot{}, domain.ErrChipNotFound
		}
		return domain.BehaviorSnapshot{}, domain.NewStorageError("chips.snapshot", err)
	}

	snap := domain.BehaviorSnapshot{OutlierScore: outlier}
	if sent > 0 {
		ratio := func(n int64) *float64 {
			v := float64(n) / float64(sent)
			return &v
		}
		snap.DeliveryRate = ratio(delivered)
		snap.BlockRate = ratio(blocked)
		snap.ErrorRate = ratio(errCount)
		snap.ResponseRate = ratio(responses)
	}
	return snap, nil
}

// ListPausedChipIDs — только ID, для прогрева L1/L2 кэша паузы на старте.
func (r *FleetRepo) ListPausedChipIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM chips WHERE status = 'paused'`)
	if err != nil {
		return nil, domain.NewStorageError("chips.paused", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewStorageError("chips.paused.scan", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, domain.NewStorageError("chips.paused.iterate", err)
	}
	return ids, nil
}

// GetFleetStats — агрегаты для дашборда одним проходом.
func (r *FleetRepo) GetFleetStats(ctx context.Context) (*domain.FleetStats, error) {
	stats := &domain.FleetStats{
		ByStatus:   map[domain.ChipStatus]int{},
		OpenAlerts: map[domain.AlertSeverity]int{},
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM chips GROUP BY status`)
	if err != nil {
		return nil, domain.NewStorageError("stats.chips", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.NewStorageError("stats.chips.scan", err)
		}
		stats.ByStatus[domain.ChipStatus(status)] = n
		stats.TotalChips += n
	}
	if err = rows.Err(); err != nil {
		return nil, domain.NewStorageError("stats.chips.iterate", err)
	}
	stats.WarmingChips = stats.ByStatus[domain.StatusWarming]

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(trust_score), 0),
		       COUNT(*) FILTER (WHERE warmup_phase = 'operacao')
		FROM chips`).Scan(&stats.AverageTrust, &stats.OperacaoChips)
	if err != nil {
		return nil, domain.NewStorageError("stats.trust", err)
	}

	arows, err := r.pool.Query(ctx, `
		SELECT severity, COUNT(*) FROM alerts
		WHERE resolved_at IS NULL GROUP BY severity`)
	if err != nil {
		return nil, domain.NewStorageError("stats.alerts", err)
	}
	defer arows.Close()
	for arows.Next() {
		var sev string
		var n int
		if err := arows.Scan(&sev, &n); err != nil {
			return nil, domain.NewStorageError("stats.alerts.scan", err)
		}
		stats.OpenAlerts[domain.AlertSeverity(sev)] = n
	}
	if err = arows.Err(); err != nil {
		return nil, domain.NewStorageError("stats.alerts.iterate", err)
	}

	return stats, nil
}

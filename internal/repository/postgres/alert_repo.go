package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

const alertColumns = `id, chip_id, type, severity, message, recommendation,
	created_at, resolved_at, resolved_by, resolution_tag, resolution_notes`

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	var tag *string

	err := row.Scan(
		&a.ID, &a.ChipID, &a.Type, &a.Severity, &a.Message, &a.Recommendation,
		&a.CreatedAt, &a.ResolvedAt, &a.ResolvedBy, &tag, &a.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}
	if tag != nil {
		t := domain.ResolutionTag(*tag)
		a.ResolutionTag = &t
	}
	return &a, nil
}

// InsertAlert — атомарный check-then-insert: частичный уникальный индекс
// (chip_id, type) WHERE resolved_at IS NULL превращает гонку двух сверок
// в тихий no-op. created=false означает "такой открытый уже есть".
func (r *FleetRepo) InsertAlert(ctx context.Context, a *domain.Alert) (bool, error) {
	query := `INSERT INTO alerts (id, chip_id, type, severity, message, recommendation, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (chip_id, type) WHERE resolved_at IS NULL DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		a.ID, a.ChipID, string(a.Type), string(a.Severity), a.Message, a.Recommendation, a.CreatedAt)
	if err != nil {
		return false, domain.NewStorageError("alerts.insert", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *FleetRepo) ListOpenAlerts(ctx context.Context, chipID string) ([]*domain.Alert, error) {
	query := `SELECT ` + alertColumns + `
	          FROM alerts WHERE chip_id = $1 AND resolved_at IS NULL
	          ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, chipID)
	if err != nil {
		return nil, domain.NewStorageError("alerts.open", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListAlerts — лента алертов для операторского API.
func (r *FleetRepo) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var conds []string
	var args []interface{}
	if f.ChipID != "" {
		args = append(args, f.ChipID)
		conds = append(conds, fmt.Sprintf("chip_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.OnlyOpen {
		conds = append(conds, "resolved_at IS NULL")
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("alerts.list", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func collectAlerts(rows pgx.Rows) ([]*domain.Alert, error) {
	alerts := make([]*domain.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, domain.NewStorageError("alerts.scan", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("alerts.iterate", err)
	}
	return alerts, nil
}

// ResolveAlert закрывает алерт. Повторный резолв идемпотентен: уже
// закрытый алерт возвращается как есть, поля резолюции не перезаписываются.
func (r *FleetRepo) ResolveAlert(ctx context.Context, id, resolvedBy string, tag domain.ResolutionTag, notes string) (*domain.Alert, error) {
	query := `UPDATE alerts
	          SET resolved_at = NOW(), resolved_by = $2, resolution_tag = $3, resolution_notes = $4
	          WHERE id = $1 AND resolved_at IS NULL
	          RETURNING ` + alertColumns

	alert, err := scanAlert(r.pool.QueryRow(ctx, query, id, resolvedBy, string(tag), notes))
	if err == nil {
		return alert, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewStorageError("alerts.resolve", err)
	}

	// Ноль строк: либо алерта нет, либо он уже закрыт. Различаем чтением.
	existing, err := scanAlert(r.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, domain.NewStorageError("alerts.resolve", err)
	}
	return existing, nil
}

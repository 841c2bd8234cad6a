package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/chipfleet-control-plane/internal/audit"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

// AuditRepo пишет пачки событий аудита. Отдельный тип, чтобы журнал
// можно было увести в другую базу, не трогая FleetRepo.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Pool отдает пул FleetRepo, чтобы журнал жил в той же базе без
// второго подключения.
func (r *FleetRepo) Pool() *pgxpool.Pool { return r.pool }

// WriteBatch вставляет всю пачку одним запросом. Плейсхолдеры строятся
// динамически под размер пачки; пачка ограничена флашером журнала.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	const numFields = 9
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		base := i * numFields
		ph := make([]string, numFields)
		for f := range ph {
			ph[f] = fmt.Sprintf("$%d", base+f+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")

		detail, err := json.Marshal(e.Detail)
		if err != nil {
			detail = []byte("{}")
		}
		args = append(args, e.ID, e.TraceID, e.ChipID, string(e.Kind),
			e.Action, e.Operator, e.Outcome, detail, e.Timestamp)
	}

	query := `INSERT INTO audit_events
		(id, trace_id, chip_id, kind, action, operator, outcome, detail, ts)
		VALUES ` + strings.Join(values, ", ")

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return domain.NewStorageError("audit.batch", err)
	}
	return nil
}

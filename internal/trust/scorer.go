package trust

import (
	"context"

	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"go.uber.org/zap"
)

// Весовая модель: хорошие сигналы добавляют, плохие вычитают.
// База 50 — чип без истории нейтрален. Максимум ровно 100
// (50 + 30 + 20), минимум срезается клампом.
const (
	baseScore      = 50.0
	wDeliveryRate  = 30.0
	wResponseRate  = 20.0
	wBlockRate     = 40.0
	wErrorRate     = 30.0
)

// ComputeScore — чистая функция: снимок метрик -> score 0..100.
// Отсутствующая метрика (nil) не вносит вклада, это не ошибка.
func ComputeScore(s domain.BehaviorSnapshot) float64 {
	score := baseScore
	if s.DeliveryRate != nil {
		score += wDeliveryRate * clamp01(*s.DeliveryRate)
	}
	if s.ResponseRate != nil {
		score += wResponseRate * clamp01(*s.ResponseRate)
	}
	if s.BlockRate != nil {
		score -= wBlockRate * clamp01(*s.BlockRate)
	}
	if s.ErrorRate != nil {
		score -= wErrorRate * clamp01(*s.ErrorRate)
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ClassifyLevel — score -> уровень. Пороги закрытые, нижняя граница
// полосы включительно (80 это уже verde). Гистерезиса нет намеренно:
// уровень всегда пересчитывается из текущего score.
func ClassifyLevel(score float64) domain.TrustLevel {
	switch {
	case score >= 80:
		return domain.LevelVerde
	case score >= 60:
		return domain.LevelAmarelo
	case score >= 40:
		return domain.LevelLaranja
	case score >= 20:
		return domain.LevelVermelho
	default:
		return domain.LevelCritico
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SnapshotSource отдает поведенческий снимок чипа за недавнее окно.
type SnapshotSource interface {
	GetBehaviorSnapshot(ctx context.Context, chipID string) (domain.BehaviorSnapshot, error)
}

// ScoreSink персистит новый score (идемпотентно для одинакового входа).
type ScoreSink interface {
	SaveChip(ctx context.Context, id string, patch domain.ChipPatch) error
}

type Scorer struct {
	src    SnapshotSource
	sink   ScoreSink
	logger *zap.Logger
}

func NewScorer(src SnapshotSource, sink ScoreSink, logger *zap.Logger) *Scorer {
	return &Scorer{src: src, sink: sink, logger: logger.Named("scorer")}
}

// Recompute пересчитывает и сохраняет score чипа, возвращает новое значение.
func (s *Scorer) Recompute(ctx context.Context, chipID string) (float64, error) {
	snap, err := s.src.GetBehaviorSnapshot(ctx, chipID)
	if err != nil {
		return 0, err
	}

	score := ComputeScore(snap)
	if err := s.sink.SaveChip(ctx, chipID, domain.ChipPatch{TrustScore: &score}); err != nil {
		return 0, err
	}

	s.logger.Debug("trust score recomputed",
		zap.String("chip_id", chipID),
		zap.Float64("score", score),
		zap.String("level", string(ClassifyLevel(score))))
	return score, nil
}

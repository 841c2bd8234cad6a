package domain

import "time"

type ChipStatus string

const (
	StatusProvisioned ChipStatus = "provisioned" // Номер куплен, ничего не делал
	StatusPending     ChipStatus = "pending"     // Ждет подключения к провайдеру
	StatusWarming     ChipStatus = "warming"     // Идет прогрев
	StatusReady       ChipStatus = "ready"       // Прогрет, ждет назначения на кампанию
	StatusActive      ChipStatus = "active"      // Полноценная работа
	StatusDegraded    ChipStatus = "degraded"    // Работает, но метрики плохие
	StatusPaused      ChipStatus = "paused"      // Остановлен оператором
	StatusBanned      ChipStatus = "banned"      // Забанен провайдером (терминальный)
	StatusOffline     ChipStatus = "offline"     // Потеряна связь с устройством
	StatusCancelled   ChipStatus = "cancelled"   // Выведен из парка (терминальный)
)

// IsTerminal — статусы, которые Control Plane не имеет права менять.
// Бан и вывод из парка ставятся внешними системами, мы их только читаем.
func (s ChipStatus) IsTerminal() bool {
	switch s {
	case StatusBanned, StatusCancelled:
		return true
	case StatusProvisioned, StatusPending, StatusWarming, StatusReady,
		StatusActive, StatusDegraded, StatusPaused, StatusOffline:
		return false
	}
	return false
}

// TrustLevel — дискретная полоса доверия, всегда выводится из score.
// Никогда не храним уровень отдельно от score (источник истины один).
type TrustLevel string

const (
	LevelVerde    TrustLevel = "verde"    // >= 80
	LevelAmarelo  TrustLevel = "amarelo"  // 60..79
	LevelLaranja  TrustLevel = "laranja"  // 40..59
	LevelVermelho TrustLevel = "vermelho" // 20..39
	LevelCritico  TrustLevel = "critico"  // < 20
)

// Rank нужен для сравнения уровней ("не ниже laranja") при выпуске из фазы.
func (l TrustLevel) Rank() int {
	switch l {
	case LevelVerde:
		return 4
	case LevelAmarelo:
		return 3
	case LevelLaranja:
		return 2
	case LevelVermelho:
		return 1
	case LevelCritico:
		return 0
	}
	return 0
}

// WarmupPhase — фаза прогрева. Порядок фиксирован, последняя фаза operacao
// означает снятие всех ограничений прогрева.
type WarmupPhase string

const (
	PhaseRepouso          WarmupPhase = "repouso"
	PhasePrimeirosContatos WarmupPhase = "primeiros_contatos"
	PhaseConversasLeves   WarmupPhase = "conversas_leves"
	PhaseEngajamento      WarmupPhase = "engajamento"
	PhaseExpansao         WarmupPhase = "expansao"
	PhaseOperacao         WarmupPhase = "operacao"
)

// ChipIdentity — один исходящий номер (чип) в парке.
type ChipIdentity struct {
	ID          string     `json:"id"`           // UUID
	PhoneNumber string     `json:"phone_number"` // E.164
	Status      ChipStatus `json:"status"`

	// PreviousStatus хранит статус до паузы, чтобы resume вернул чип
	// ровно туда, где он был.
	PreviousStatus ChipStatus `json:"previous_status,omitempty"`

	TrustScore float64 `json:"trust_score"` // 0..100

	WarmupPhase    *WarmupPhase `json:"warmup_phase"` // nil до начала прогрева
	WarmupDay      int          `json:"warmup_day"`   // дней в текущей фазе
	PhaseStartedAt *time.Time   `json:"phase_started_at"`

	// Лимиты отправки, производные от фазы и уровня доверия
	HourlyLimit int `json:"hourly_limit"`
	DailyLimit  int `json:"daily_limit"`

	// Скользящие счетчики отправок (окна локальны для чипа)
	MessagesSentHour int       `json:"messages_sent_hour"`
	MessagesSentDay  int       `json:"messages_sent_day"`
	HourWindowStart  time.Time `json:"hour_window_start"`
	DayWindowStart   time.Time `json:"day_window_start"`

	LastActivityAt *time.Time `json:"last_activity_at"`
	LastErrorAt    *time.Time `json:"last_error_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrustLevelOf — текущий уровень; считается на лету, см. trust.ClassifyLevel.
// Дублирующая таблица порогов здесь не заводится намеренно.

// BehaviorSnapshot — нормализованные поведенческие метрики чипа за
// недавнее окно. nil означает "данных нет" — скорер трактует это как
// нейтральный сигнал (вклад 0), а не как ошибку.
type BehaviorSnapshot struct {
	DeliveryRate *float64 // доставлено / отправлено
	BlockRate    *float64 // блокировки получателей / исходящие
	ErrorRate    *float64 // ошибки провайдера / исходящие
	ResponseRate *float64 // получено ответов / исходящие

	// OutlierScore — выход поведенческого анализатора (0..1),
	// nil если анализатор еще не считал этот чип.
	OutlierScore *float64
}

// ChipPatch — частичное обновление чипа. Репозиторий пишет только
// заполненные поля, nil игнорируется.
type ChipPatch struct {
	Status         *ChipStatus
	PreviousStatus *ChipStatus
	TrustScore     *float64
	WarmupPhase    *WarmupPhase
	WarmupDay      *int
	PhaseStartedAt *time.Time
	HourlyLimit    *int
	DailyLimit     *int
	LastActivityAt *time.Time
	LastErrorAt    *time.Time
}

// ChipFilter — выборка чипов в списках и в обходе монитора.
type ChipFilter struct {
	Status []ChipStatus
	Limit  int
}

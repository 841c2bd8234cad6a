package audit

import "time"

// EventKind — что именно фиксируем в журнале решений Control Plane.
type EventKind string

const (
	KindAdmission     EventKind = "ADMISSION"      // допуск/отказ отправки
	KindTransition    EventKind = "TRANSITION"     // смена статуса или фазы
	KindAlertRaised   EventKind = "ALERT_RAISED"   // детектор поднял алерт
	KindAlertResolved EventKind = "ALERT_RESOLVED" // оператор закрыл алерт
	KindBulkAction    EventKind = "BULK_ACTION"    // массовое действие оператора
)

// Event — одна запись append-only журнала. Журнал никогда не чистится
// из Control Plane: это аудит-след для разборов инцидентов.
type Event struct {
	ID      string    `json:"id"`       // UUID события
	TraceID string    `json:"trace_id"` // Сквозной ID запроса
	ChipID  string    `json:"chip_id"`  // Какой чип затронут
	Kind    EventKind `json:"kind"`

	Action   string `json:"action"`   // pause/resume/promote/send/...
	Operator string `json:"operator"` // Кто инициировал (пусто для автоматики)

	// Результат
	Outcome   string                 `json:"outcome"` // GRANTED, DENIED, SUCCEEDED, SKIPPED, FAILED
	Detail    map[string]interface{} `json:"detail"`  // Контекст решения (лимиты, фазы, причины)
	Timestamp time.Time              `json:"timestamp"`
}

package domain

import "time"

// AlertType — закрытый перечень аномалий. Новый тип добавляется здесь
// и во всех switch ниже; компилятор и тесты не дадут забыть ветку.
type AlertType string

const (
	AlertTrustFalling        AlertType = "TRUST_FALLING"
	AlertHighBlockRate       AlertType = "HIGH_BLOCK_RATE"
	AlertFrequentErrors      AlertType = "FREQUENT_ERRORS"
	AlertLowDelivery         AlertType = "LOW_DELIVERY"
	AlertLowResponse         AlertType = "LOW_RESPONSE"
	AlertDisconnected        AlertType = "DISCONNECTED"
	AlertLimitApproaching    AlertType = "LIMIT_APPROACHING"
	AlertPhaseStalled        AlertType = "PHASE_STALLED"
	AlertQualityTargetMissed AlertType = "QUALITY_TARGET_MISSED"
	AlertAnomalousBehavior   AlertType = "ANOMALOUS_BEHAVIOR"
)

// AllAlertTypes — для дашборда и валидации входа.
var AllAlertTypes = []AlertType{
	AlertTrustFalling, AlertHighBlockRate, AlertFrequentErrors,
	AlertLowDelivery, AlertLowResponse, AlertDisconnected,
	AlertLimitApproaching, AlertPhaseStalled, AlertQualityTargetMissed,
	AlertAnomalousBehavior,
}

type AlertSeverity string

const (
	SeverityCritical  AlertSeverity = "critical"
	SeverityAlert     AlertSeverity = "alert"
	SeverityAttention AlertSeverity = "attention"
	SeverityInfo      AlertSeverity = "info"
)

// Severity — жесткая привязка серьезности к типу. Никаких таблиц
// со строковыми ключами: пропущенный тип — это пропущенная ветка switch.
func (t AlertType) Severity() AlertSeverity {
	switch t {
	case AlertDisconnected, AlertHighBlockRate:
		return SeverityCritical
	case AlertTrustFalling, AlertFrequentErrors, AlertLowDelivery, AlertAnomalousBehavior:
		return SeverityAlert
	case AlertLowResponse, AlertPhaseStalled, AlertQualityTargetMissed:
		return SeverityAttention
	case AlertLimitApproaching:
		return SeverityInfo
	}
	return SeverityInfo
}

// Recommendation — подсказка оператору, что делать с алертом.
func (t AlertType) Recommendation() string {
	switch t {
	case AlertTrustFalling:
		return "Reduce send pace and review contact list quality"
	case AlertHighBlockRate:
		return "Pause the chip and review the audience segment: recipients are blocking it"
	case AlertFrequentErrors:
		return "Check the provider session and device stability"
	case AlertLowDelivery:
		return "Validate phone numbers in the contact base and check connectivity"
	case AlertLowResponse:
		return "Rework the opening message template: the audience is not replying"
	case AlertDisconnected:
		return "Reconnect the device: heartbeat is not arriving"
	case AlertLimitApproaching:
		return "Window limit almost exhausted, sends will be rejected soon"
	case AlertPhaseStalled:
		return "Minimum days served but trust below the phase gate; improve quality or promote manually"
	case AlertQualityTargetMissed:
		return "Delivery quality target for the current phase was not met"
	case AlertAnomalousBehavior:
		return "Activity pattern is atypical; inspect the chip manually"
	}
	return ""
}

// ResolutionTag — чем закрыт алерт оператором.
type ResolutionTag string

const (
	ResolutionCorrected     ResolutionTag = "corrected"
	ResolutionFalsePositive ResolutionTag = "false_positive"
)

// Alert — одно зафиксированное отклонение. Append-only: алерты не
// удаляются, только резолвятся (поля ниже заполняются один раз).
type Alert struct {
	ID             string        `json:"id"`
	ChipID         string        `json:"chip_id"`
	Type           AlertType     `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	Recommendation string        `json:"recommendation,omitempty"`

	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ResolvedBy      *string        `json:"resolved_by"`
	ResolutionTag   *ResolutionTag `json:"resolution_tag"`
	ResolutionNotes *string        `json:"resolution_notes"`
}

func (a *Alert) IsOpen() bool { return a.ResolvedAt == nil }

// AlertFilter — выборка алертов в операторском API. Пустые поля
// не сужают выборку.
type AlertFilter struct {
	ChipID   string
	Type     AlertType
	OnlyOpen bool
	Limit    int
}

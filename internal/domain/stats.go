package domain

// FleetStats — агрегаты для дашборда операций.
type FleetStats struct {
	TotalChips    int                   `json:"total_chips"`
	ByStatus      map[ChipStatus]int    `json:"by_status"`
	OpenAlerts    map[AlertSeverity]int `json:"open_alerts"`
	AverageTrust  float64               `json:"average_trust"`
	WarmingChips  int                   `json:"warming_chips"`
	OperacaoChips int                   `json:"operacao_chips"` // дошли до терминальной фазы
}

package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "chipfleet"
)

// Ключи для Sets и блокировок (состояние)
const (
	RedisKeyPausedChips = RedisNamespace + ":chips:paused_set"
	RedisKeyLockPaused  = RedisNamespace + ":lock:warmcache:paused"
	RedisKeyLockMonitor = RedisNamespace + ":lock:monitor"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPauseSignal — трансляция включения/снятия паузы ("id:on"/"id:off")
	RedisChanPauseSignal = RedisNamespace + ":chips:pause-signal"
)

// BulkTokenKey — ключ токена подтверждения массового действия.
func BulkTokenKey(token string) string {
	return fmt.Sprintf("%s:bulk:confirmation:%s", RedisNamespace, token)
}

package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "podtato:smoke"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAbort - канал остановки прогона. Формат сообщения "run_id:true".
	RedisChanAbort = RedisNamespace + ":abort"
)

// Поля хеша счетчиков прогона
const (
	RedisFieldIterations   = "iterations"
	RedisFieldErrors       = "errors"
	RedisFieldChecksPassed = "checks_passed"
)

// RunRatesKey - хеш с агрегированными счетчиками прогона (общий для всех инстансов).
func RunRatesKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:rates", RedisNamespace, runID)
}

// RunAbortKey - флаг остановки; переживает переподключение подписчика.
func RunAbortKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:abort", RedisNamespace, runID)
}

// RunBatchKey - отметка о примененной пачке счетчиков, защищает от двойного учета при повторе.
func RunBatchKey(runID, batchID string) string {
	return fmt.Sprintf("%s:run:%s:batch:%s", RedisNamespace, runID, batchID)
}

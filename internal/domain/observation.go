package domain

import "time"

// FailureKind классифицирует неуспешную проверку.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTransport   FailureKind = "transport"   // отказ соединения, DNS, таймаут
	FailureStatus      FailureKind = "status"      // ответ получен, но не 200
	FailureInterrupted FailureKind = "interrupted" // прогон отменен во время запроса
)

// Observation - результат одного вызова SmokeCheck.
type Observation struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	VU         int           `json:"vu"`
	Iteration  int64         `json:"iteration"`
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"` // 0, если ответа нет
	Success    bool          `json:"success"`
	Kind       FailureKind   `json:"kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Responded  bool          `json:"responded"` // Duration валиден только при наличии ответа
	Timestamp  time.Time     `json:"timestamp"`
}

// Failed - значение, которое уходит в аккумулятор "errors".
func (o Observation) Failed() bool {
	return !o.Success
}

// Interrupted сообщает, что итерация была прервана и не учитывается в метриках.
func (o Observation) Interrupted() bool {
	return o.Kind == FailureInterrupted
}

// DurationMs - длительность запроса в миллисекундах (единица http_req_duration).
func (o Observation) DurationMs() float64 {
	return float64(o.Duration) / float64(time.Millisecond)
}

package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/infra"
)

// ListenStateResilient - универсальный цикл для "живучей" подписки на сигналы Redis.
// Обрабатывает переподключения, логирование и разбор сигналов.
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // Callback для синхронизации при переподключении
	onMessage func(id string, status bool), // Callback для обработки сообщения
) {
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		// Вызываем синхронизацию при каждом успешном коннекте
		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Разбор формата "run_id:status"
				idx := strings.LastIndex(msg.Payload, ":")
				if idx <= 0 {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}

				id := msg.Payload[:idx]
				flag := msg.Payload[idx+1:]
				status := flag == "true" || flag == "on" // Гибкий парсинг

				onMessage(id, status)
			}
		}

		pubsub.Close()
		sleepCtx(ctx, 1*time.Second)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// AbortSwitch отменяет прогон по сигналу оператора из Redis.
type AbortSwitch struct {
	runID  string
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAbortSwitch(runID string, rdb *redis.Client, logger *zap.Logger) *AbortSwitch {
	return &AbortSwitch{
		runID:  runID,
		rdb:    rdb,
		logger: logger.Named("abort").With(zap.String("run_id", runID)),
	}
}

// Watch слушает канал до отмены ctx и вызывает cancel при получении сигнала.
// Флаг в ключе проверяется при каждом переподключении, чтобы не пропустить сигнал.
func (a *AbortSwitch) Watch(ctx context.Context, cancel context.CancelFunc) {
	ListenStateResilient(ctx, a.rdb, a.logger, infra.RedisChanAbort,
		func() error {
			aborted, err := a.isFlagged(ctx)
			if err != nil {
				return err
			}
			if aborted {
				a.logger.Warn("abort flag found, stopping run")
				cancel()
			}
			return nil
		},
		func(id string, status bool) {
			if id != a.runID || !status {
				return
			}
			a.logger.Warn("abort signal received, stopping run")
			cancel()
		},
	)
}

func (a *AbortSwitch) isFlagged(ctx context.Context) (bool, error) {
	val, err := a.rdb.Get(ctx, infra.RunAbortKey(a.runID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}

// Abort публикует сигнал остановки и ставит флаг для тех, кто сейчас переподключается.
func Abort(ctx context.Context, rdb *redis.Client, runID string, ttl time.Duration) error {
	pipe := rdb.TxPipeline()
	pipe.Set(ctx, infra.RunAbortKey(runID), "true", ttl)
	pipe.Publish(ctx, infra.RedisChanAbort, runID+":true")
	_, err := pipe.Exec(ctx)
	return err
}

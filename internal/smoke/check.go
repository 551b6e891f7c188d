package smoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/domain"
)

// Recorder принимает наблюдения. Должен быть безопасен для конкурентного вызова.
type Recorder interface {
	Record(o domain.Observation)
}

// Check выполняет один GET по заранее собранному адресу и проверяет статус 200.
// Ошибки запроса не возвращаются вызывающему: они становятся данными в Recorder.
type Check struct {
	url      string
	runID    string
	client   *http.Client
	recorder Recorder
	logger   *zap.Logger
}

func NewCheck(url, runID string, client *http.Client, recorder Recorder, logger *zap.Logger) *Check {
	if client == nil {
		client = &http.Client{}
	}
	return &Check{
		url:      url,
		runID:    runID,
		client:   client,
		recorder: recorder,
		logger:   logger.Named("check"),
	}
}

// URL возвращает адрес цели.
func (c *Check) URL() string {
	return c.url
}

// Run выполняет одну итерацию: запрос, проверка, запись !success в Recorder.
func (c *Check) Run(ctx context.Context, vu int, iteration int64) domain.Observation {
	obs := domain.Observation{
		ID:        uuid.New().String(),
		RunID:     c.runID,
		VU:        vu,
		Iteration: iteration,
		URL:       c.url,
		Timestamp: time.Now(),
	}

	// 1. Запрос. Без заголовков и тела.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		// Битый URL (например, пустые параметры в permissive-режиме) - это тоже транспортный отказ
		obs.Kind = domain.FailureTransport
		obs.Error = err.Error()
		c.record(obs)
		return obs
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		obs.Duration = time.Since(start)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Прогон отменен - итерацию не учитываем
			obs.Kind = domain.FailureInterrupted
			obs.Error = err.Error()
			return obs
		}
		obs.Kind = domain.FailureTransport
		obs.Error = err.Error()
		c.logger.Debug("request failed", zap.String("url", c.url), zap.Error(err))
		c.record(obs)
		return obs
	}

	// Вычитываем тело, чтобы соединение вернулось в пул
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	obs.Duration = time.Since(start)
	obs.Responded = true
	obs.StatusCode = resp.StatusCode

	// 2. Проверка 'status is 200'
	obs.Success = resp.StatusCode == http.StatusOK
	if !obs.Success {
		obs.Kind = domain.FailureStatus
		obs.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		c.logger.Debug("unexpected status", zap.String("url", c.url), zap.Int("status", resp.StatusCode))
	}

	c.record(obs)
	return obs
}

func (c *Check) record(obs domain.Observation) {
	if c.recorder != nil {
		c.recorder.Record(obs)
	}
}

// Recorders раздает наблюдение нескольким получателям.
type Recorders []Recorder

func (rs Recorders) Record(o domain.Observation) {
	for _, r := range rs {
		r.Record(o)
	}
}

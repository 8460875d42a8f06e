// Package consumer drains the async ingestion buffer into the engine.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"threatsense/internal/engine"
	"threatsense/internal/queue"
)

// Config tunes the consumer pool.
type Config struct {
	Workers int `yaml:"workers"`
}

// DefaultConfig returns consumer defaults.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Consumer runs a pool of workers that pop queued payloads and push them
// through the full logging pipeline.
type Consumer struct {
	buffer  *queue.RingBuffer
	engine  *engine.Engine
	workers int
	logger  *slog.Logger

	processed atomic.Uint64
	failed    atomic.Uint64
	wg        sync.WaitGroup
}

// New creates a consumer pool.
func New(cfg Config, buffer *queue.RingBuffer, eng *engine.Engine, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		buffer:  buffer,
		engine:  eng,
		workers: workers,
		logger:  logger.With("component", "consumer"),
	}
}

// Start launches the worker pool. Workers exit when the buffer is closed
// and drained, or when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i)
	}
	c.logger.Info("consumer started", "workers", c.workers)
}

func (c *Consumer) run(ctx context.Context, id int) {
	defer c.wg.Done()
	for {
		payload, err := c.buffer.PopBlocking()
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				c.logger.Debug("worker exiting", "worker", id)
				return
			}
			c.logger.Error("pop failed", "worker", id, "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.engine.LogSecurityEvent(ctx, payload); err != nil {
			c.failed.Add(1)
			c.logger.Error("async event processing failed",
				"worker", id,
				"event_type", payload.Type,
				"error", err)
			continue
		}
		c.processed.Add(1)
	}
}

// Stop closes the buffer and waits for workers to drain it.
func (c *Consumer) Stop() {
	c.buffer.Close()
	c.wg.Wait()
	processed, failed := c.processed.Load(), c.failed.Load()
	c.logger.Info("consumer stopped", "processed", processed, "failed", failed)
}

// Stats reports processing counters.
func (c *Consumer) Stats() (processed, failed uint64) {
	return c.processed.Load(), c.failed.Load()
}

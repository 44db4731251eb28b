// Package sink доставляет результаты обработки батчей потребителям:
// кэш сессий, Kafka, InfluxDB, журнал.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/store"
)

// Publisher - получатель результата обработки
type Publisher interface {
	Publish(ctx context.Context, res *session.Result) error
}

// Composite рассылает результат всем подключенным получателям параллельно.
// Ошибка одного получателя не мешает остальным.
type Composite struct {
	publishers []Publisher
}

func NewComposite(publishers ...Publisher) *Composite {
	c := &Composite{}
	for _, p := range publishers {
		if p != nil {
			c.publishers = append(c.publishers, p)
		}
	}
	return c
}

// Add подключает получателя (до начала обработки)
func (c *Composite) Add(p Publisher) {
	if p != nil {
		c.publishers = append(c.publishers, p)
	}
}

func (c *Composite) Len() int {
	return len(c.publishers)
}

func (c *Composite) Publish(ctx context.Context, res *session.Result) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, p := range c.publishers {
		g.Go(func() error {
			if err := p.Publish(ctx, res); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

// CacheSink раскладывает результат по кэшу сессии и продлевает TTL
type CacheSink struct {
	cache store.CacheStore
	ttl   time.Duration
}

// NewCacheSink создает sink; ttl <= 0 - без срока жизни
func NewCacheSink(cache store.CacheStore, ttl time.Duration) *CacheSink {
	return &CacheSink{cache: cache, ttl: ttl}
}

func (cs *CacheSink) Publish(ctx context.Context, res *session.Result) error {
	if err := store.CacheResult(ctx, cs.cache, res); err != nil {
		return fmt.Errorf("cache session %s: %w", res.SessionID, err)
	}
	if cs.ttl > 0 {
		if err := cs.cache.SetSessionTTL(ctx, res.SessionID, cs.ttl); err != nil {
			return fmt.Errorf("set ttl for session %s: %w", res.SessionID, err)
		}
	}
	return nil
}

// LogPublisher пишет краткую сводку результата в журнал
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, res *session.Result) error {
	log.Printf("[RESULT] session=%s status=%s prediction=%.3f stv=%.2f ltv=%.2f decels=%d late=%d contractions=%d history=%d",
		res.SessionID,
		res.Status,
		res.Prediction,
		res.Records.STV,
		res.Records.LTV,
		res.Records.TotalDecelerations,
		res.Records.LateDecelerations,
		res.Records.TotalContractions,
		res.HistorySize)
	return nil
}

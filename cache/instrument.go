package cache

import (
	"context"
	"time"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/metrics"
)

type instrumented struct {
	Storage
	backend string
	metrics *metrics.Metrics
}

// Instrument wraps storage so that its operations are counted and timed.
func Instrument(storage Storage, backend string, m *metrics.Metrics) Storage {
	return &instrumented{Storage: storage, backend: backend, metrics: m}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	s.metrics.Observe(s.backend, op, time.Since(start).Seconds())
	if err != nil {
		s.metrics.Error(s.backend, op)
	}
}

func (s *instrumented) Get(ctx context.Context, key Key) (Item, bool, error) {
	start := time.Now()
	item, ok, err := s.Storage.Get(ctx, key)
	s.observe("get", start, err)
	if err == nil {
		if ok {
			s.metrics.Hit(s.backend)
		} else {
			s.metrics.Miss(s.backend)
		}
	}
	return item, ok, err
}

func (s *instrumented) Put(ctx context.Context, key Key, request httpcache.Headers, res *httpcache.Response) (Item, error) {
	start := time.Now()
	item, err := s.Storage.Put(ctx, key, request, res)
	s.observe("put", start, err)
	if err == nil {
		s.metrics.Put(s.backend)
	}
	return item, err
}

func (s *instrumented) Invalidate(ctx context.Context, key Key) error {
	start := time.Now()
	err := s.Storage.Invalidate(ctx, key)
	s.observe("invalidate", start, err)
	if err == nil {
		s.metrics.Invalidation(s.backend)
	}
	return err
}

func (s *instrumented) Clear(ctx context.Context) error {
	start := time.Now()
	err := s.Storage.Clear(ctx)
	s.observe("clear", start, err)
	return err
}

// Package lode persists the session's Run Event timeline to a Lode
// dataset. Records are JSONL, Hive-partitioned by
// session_id/day/process_id/event_type, on the filesystem, in memory or
// on S3.
package lode

import (
	"context"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/vigil/metrics"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "vigil"

// Config identifies the history dataset and session.
type Config struct {
	Dataset   string
	SessionID string
}

// Client writes history records.
type Client interface {
	// WriteEvents writes a batch of event records in order.
	WriteEvents(ctx context.Context, records []EventRecord) error
	// WriteMetrics writes a session metrics record.
	WriteMetrics(ctx context.Context, record MetricsRecord) error
	Close() error
}

// LodeClient is the Lode-backed Client.
type LodeClient struct {
	dataset      lode.Dataset
	config       Config
	storeFactory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewLodeClient creates a client with filesystem storage under root.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeMemoryClient creates a client on in-memory storage. History
// lives as long as the process.
func NewLodeMemoryClient(cfg Config) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewMemoryFactory())
}

// NewLodeClientWithFactory creates a client on an arbitrary store.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, wrapError("init", cfg.Dataset, err)
	}
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}, nil
}

// WriteEvents implements Client.
func (c *LodeClient) WriteEvents(ctx context.Context, records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.toMap())
	}
	_, err := c.dataset.Write(ctx, rows, lode.Metadata{})
	return wrapError("write", c.config.Dataset, err)
}

// WriteMetrics implements Client.
func (c *LodeClient) WriteMetrics(ctx context.Context, record MetricsRecord) error {
	_, err := c.dataset.Write(ctx, []any{record.toMap()}, lode.Metadata{})
	return wrapError("write", c.config.Dataset, err)
}

// Close releases client resources. The dataset holds none.
func (c *LodeClient) Close() error {
	return nil
}

var _ Client = (*LodeClient)(nil)

// InstrumentedClient records write outcomes on a metrics collector.
type InstrumentedClient struct {
	inner     Client
	collector *metrics.Collector
}

// NewInstrumentedClient wraps inner.
func NewInstrumentedClient(inner Client, collector *metrics.Collector) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, collector: collector}
}

// WriteEvents implements Client.
func (c *InstrumentedClient) WriteEvents(ctx context.Context, records []EventRecord) error {
	return c.record(c.inner.WriteEvents(ctx, records))
}

// WriteMetrics implements Client.
func (c *InstrumentedClient) WriteMetrics(ctx context.Context, record MetricsRecord) error {
	return c.record(c.inner.WriteMetrics(ctx, record))
}

// Close implements Client.
func (c *InstrumentedClient) Close() error {
	return c.inner.Close()
}

func (c *InstrumentedClient) record(err error) error {
	if err != nil {
		c.collector.IncHistoryWriteFailure()
	} else {
		c.collector.IncHistoryWriteSuccess()
	}
	return err
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/vigil/adapter"
	"github.com/pithecene-io/vigil/adapter/redis"
	"github.com/pithecene-io/vigil/adapter/webhook"
	"github.com/pithecene-io/vigil/cli/config"
	"github.com/pithecene-io/vigil/lode"
	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/session"
	"github.com/pithecene-io/vigil/types"
)

// stack is one wired session with its optional history recorder and
// notifier subscribed to the bus.
type stack struct {
	settings settings
	logger   *log.Logger
	metrics  *metrics.Collector
	session  *session.Session
	recorder *lode.Recorder
	notifier *adapter.Notifier
}

type stackOptions struct {
	// Backend overrides the exec backend.
	Backend runtime.Backend
	// Confirm answers snapshot update proposals; nil accepts.
	Confirm func(types.Request) bool
	// LogWriter receives the session log instead of stderr.
	LogWriter io.Writer
}

func buildStack(s settings, opts stackOptions) (*stack, error) {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	sessionID := uuid.NewString()
	logger := log.NewLogger(sessionID, level)
	if opts.LogWriter != nil {
		logger = log.NewLoggerWithWriter(sessionID, level, opts.LogWriter)
	}

	backend := opts.Backend
	if backend == nil {
		backend = runtime.NewExecBackend(runtime.CommandConfig{
			Command:  s.Command,
			Shell:    s.Shell,
			RootPath: s.Root,
		}, logger)
	}

	st := &stack{
		settings: s,
		logger:   logger,
		metrics:  metrics.NewCollector(sessionID, s.Storage.Backend, s.Adapter.Type),
	}

	if s.Storage.Enabled() {
		client, err := buildHistoryClient(sessionID, s.Storage)
		if err != nil {
			return nil, fmt.Errorf("history storage: %w", err)
		}
		st.recorder, err = lode.NewRecorder(
			lode.NewInstrumentedClient(client, st.metrics),
			client,
			sessionID,
			lode.RecorderOptions{Metrics: st.metrics, Logger: logger},
		)
		if err != nil {
			return nil, err
		}
	}

	if s.Adapter.Type != "" {
		a, err := buildAdapter(s.Adapter)
		if err != nil {
			return nil, fmt.Errorf("adapter: %w", err)
		}
		st.notifier = adapter.NewNotifier(a, sessionID, 0, st.metrics, logger)
	}

	var saveRate rate.Limit
	if s.Watch.MinInterval.Duration > 0 {
		saveRate = rate.Every(s.Watch.MinInterval.Duration)
	}
	st.session, err = session.New(session.Config{
		Backend:               backend,
		ID:                    sessionID,
		RunMode:               s.RunMode,
		LongRunThreshold:      s.LongRunThreshold,
		UseLoginShell:         s.LoginShell,
		NonBlockingLimit:      s.NonBlockingLimit,
		SnapshotUpdates:       s.SnapshotUpdate,
		ConfirmSnapshotUpdate: opts.Confirm,
		OnResults:             st.storeResults,
		SaveRate:              saveRate,
		SaveBurst:             s.Watch.Burst,
		Logger:                logger,
		Metrics:               st.metrics,
	})
	if err != nil {
		return nil, err
	}

	if st.recorder != nil {
		st.session.Bus().SubscribeAll(st.recorder.Handle)
	}
	if st.notifier != nil {
		st.session.Bus().SubscribeAll(st.notifier.Handle)
	}
	return st, nil
}

// storeResults keeps the raw results document beside the process's
// events in history.
func (st *stack) storeResults(processID string, results *types.TotalResults) {
	if st.recorder == nil || results == nil {
		return
	}
	data := results.Raw
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(results); err != nil {
			return
		}
	}
	if err := st.recorder.PutResults(context.Background(), processID, data); err != nil {
		st.logger.Warn("cannot store results file", map[string]any{
			"process_id": processID,
			"error":      err.Error(),
		})
	}
}

// Close stops every process, drains the bus and closes the recorder and
// the notifier.
func (st *stack) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := st.session.Close(ctx)
	if st.notifier != nil {
		err = multierr.Append(err, st.notifier.Close())
	}
	if st.recorder != nil {
		err = multierr.Append(err, st.recorder.Close())
	}
	_ = st.logger.Sync()
	return err
}

// closeAndLog closes the stack for callers that have no error to return
// it through.
func (st *stack) closeAndLog() {
	if err := st.Close(); err != nil {
		st.logger.Warn("session close reported errors", map[string]any{"error": err.Error()})
	}
}

func buildHistoryClient(sessionID string, sc config.StorageConfig) (*lode.LodeClient, error) {
	cfg := lode.Config{Dataset: sc.Dataset, SessionID: sessionID}
	switch sc.Backend {
	case config.BackendFS:
		return lode.NewLodeClient(cfg, sc.Path)
	case config.BackendS3:
		return lode.NewLodeS3Client(cfg, s3Config(sc))
	case config.BackendMemory:
		return lode.NewLodeMemoryClient(cfg)
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

func s3Config(sc config.StorageConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(sc.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       sc.Region,
		Endpoint:     sc.Endpoint,
		UsePathStyle: sc.S3PathStyle,
	}
}

func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := 0
	if ac.Retries != nil {
		retries = *ac.Retries
	}
	switch ac.Type {
	case config.AdapterRedis:
		return redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case config.AdapterWebhook:
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	}
	return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
}

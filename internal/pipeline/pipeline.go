// Package pipeline assembles the workers of one daqpull process: a collector
// per registered unit plus the verification, storage, and statistics stages,
// all sharing the three durable channels of one store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"daqpull/internal/alerts"
	"daqpull/internal/collector"
	"daqpull/internal/config"
	"daqpull/internal/health"
	"daqpull/internal/metrics"
	"daqpull/internal/queue"
	"daqpull/internal/remote"
	"daqpull/internal/stage"
	"daqpull/internal/storage"
	"daqpull/internal/units"
	"daqpull/internal/verification"
	"daqpull/internal/verification/samples"
)

// Pipeline is the assembled worker set.
type Pipeline struct {
	Registry *units.Registry
	Verify   *queue.Channel[queue.VerifyItem]
	Storage  *queue.Channel[queue.StoreItem]
	Stats    *queue.Channel[queue.StatsItem]

	Collectors   []*collector.Worker
	Verification *verification.Stage
	StorageStage *storage.Stage
	Statistics   *health.Stage
}

// Options tunes the assembled workers. The zero value builds production workers.
type Options struct {
	Remote       []remote.Option
	Collector    []collector.Option
	Storage      []storage.Option
	Health       []health.Option
	SampleReader samples.Reader
}

// Build opens the channels, restores unit health, and constructs every worker.
func Build(ctx context.Context, cfg *config.Config, store *queue.Store, sink alerts.Sink, logger *slog.Logger, m *metrics.Metrics, opts Options) (*Pipeline, error) {
	registry, err := units.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build unit registry: %w", err)
	}
	p := &Pipeline{Registry: registry}
	if p.Verify, err = queue.OpenChannel[queue.VerifyItem](ctx, store, queue.ChannelVerification); err != nil {
		return nil, err
	}
	if p.Storage, err = queue.OpenChannel[queue.StoreItem](ctx, store, queue.ChannelStorage); err != nil {
		return nil, err
	}
	if p.Stats, err = queue.OpenChannel[queue.StatsItem](ctx, store, queue.ChannelStatistics); err != nil {
		return nil, err
	}

	client, err := remote.New(cfg, opts.Remote...)
	if err != nil {
		return nil, err
	}
	collectorOpts := append([]collector.Option{collector.WithMetrics(m)}, opts.Collector...)
	for _, u := range registry.All() {
		p.Collectors = append(p.Collectors,
			collector.NewWorker(cfg, u, client, p.Verify, p.Stats, sink, logger, collectorOpts...))
	}

	reader := opts.SampleReader
	if reader == nil {
		reader = samples.NewRegistry()
	}
	checker := verification.NewChecker(registry, reader, cfg.Verification.StuckRunLength)
	p.Verification = verification.NewStage(cfg, checker, p.Verify, p.Storage, p.Stats, sink, logger, m)
	p.StorageStage = storage.NewStage(cfg, p.Storage, p.Stats, sink, logger, m, opts.Storage...)

	tracker, err := health.LoadTracker(ctx, store, registry)
	if err != nil {
		return nil, fmt.Errorf("restore unit health: %w", err)
	}
	p.Statistics = health.NewStage(cfg, store, p.Stats, tracker, sink, logger, m, opts.Health...)
	return p, nil
}

// Workers lists every worker in start order.
func (p *Pipeline) Workers() []stage.Worker {
	out := make([]stage.Worker, 0, len(p.Collectors)+3)
	out = append(out, p.Statistics, p.StorageStage, p.Verification)
	for _, c := range p.Collectors {
		out = append(out, c)
	}
	return out
}

// Package agent runs the job-queue worker: it authenticates against the
// store backend, keeps the printer inventory in sync, and pulls print
// jobs by polling or on Mercure push events.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storeprint/print-agent/internal/api"
	"github.com/storeprint/print-agent/internal/dispatcher"
	"github.com/storeprint/print-agent/internal/registry"
)

// Config tunes the agent loops.
type Config struct {
	PollInterval time.Duration
	// FallbackPollInterval is the safety-net poll used while SSE push
	// delivery is active.
	FallbackPollInterval time.Duration
	PingInterval         time.Duration
	SyncInterval         time.Duration
	MaxBackoff           time.Duration
	InitialBackoff       time.Duration
	BackoffFactor        float64
	// DryRun logs and acks jobs without touching a printer.
	DryRun     bool
	DisableSSE bool
	Insecure   bool
}

func DefaultConfig() Config {
	return Config{
		PollInterval:         2 * time.Second,
		FallbackPollInterval: 30 * time.Second,
		PingInterval:         30 * time.Second,
		SyncInterval:         10 * time.Second,
		MaxBackoff:           60 * time.Second,
		InitialBackoff:       time.Second,
		BackoffFactor:        2.0,
	}
}

// Stats counts what the agent has done since start.
type Stats struct {
	mu             sync.RWMutex
	JobsProcessed  int64
	JobsFailed     int64
	LastPollAt     time.Time
	LastJobAt      time.Time
	ConsecutiveErr int
}

// Agent ties the queue client, the printer registry and the dispatcher
// together.
type Agent struct {
	config        Config
	client        *api.Client
	authenticator *api.Authenticator
	registry      *registry.Registry
	dispatcher    *dispatcher.Dispatcher
	logger        *zap.Logger
	stats         Stats

	stopCh    chan struct{}
	wg        sync.WaitGroup
	jobNotify chan struct{}
	sseMu     sync.RWMutex
	sseActive bool
}

// New builds an agent. auth may be nil for an unauthenticated local run.
func New(client *api.Client, auth *api.Authenticator, reg *registry.Registry, logger *zap.Logger, config Config) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		config:        config,
		client:        client,
		authenticator: auth,
		registry:      reg,
		dispatcher:    dispatcher.New(reg, logger),
		logger:        logger,
		stopCh:        make(chan struct{}),
		// buffered so the SSE loop never blocks on a slow poll
		jobNotify: make(chan struct{}, 1),
	}
}

// Start runs the agent until Stop is called or the context is canceled.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("agent starting")

	if a.authenticator != nil {
		tokenResp, err := a.authenticator.Authenticate(ctx)
		if err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		a.logger.Info("authenticated",
			zap.String("agent", tokenResp.Agent.Name),
			zap.String("store", tokenResp.Agent.Store),
			zap.Time("token_expires", a.authenticator.TokenExpiresAt()))

		a.wg.Add(2)
		go a.pingLoop(ctx)
		go a.syncLoop(ctx)
	}

	changes := a.registry.DetectChanges()
	printers := a.registry.Available()
	a.logger.Info("printers detected", zap.Int("count", len(printers)))
	for _, p := range printers {
		a.logger.Info("printer",
			zap.String("id", p.ID),
			zap.String("type", string(p.Type)),
			zap.String("device", p.DevicePath))
	}
	if len(printers) == 0 {
		a.logger.Warn("no printers detected, jobs may fail")
	}
	if a.authenticator != nil && changes.Changed() {
		a.syncPrinters(ctx)
	}

	useSSE := false
	switch {
	case a.config.DisableSSE:
		a.logger.Info("push events disabled by configuration, polling only")
	case a.authenticator != nil && a.authenticator.HasMercure():
		a.logger.Info("event hub available, starting push-driven mode")
		a.wg.Add(1)
		go a.sseLoop(ctx)
		useSSE = true
	default:
		a.logger.Info("event hub not available, polling only")
	}

	a.wg.Add(1)
	go a.pollLoop(ctx, useSSE)

	select {
	case <-ctx.Done():
		a.logger.Info("context canceled, shutting down")
	case <-a.stopCh:
		a.logger.Info("stop requested, shutting down")
	}

	a.wg.Wait()
	a.logger.Info("agent stopped")
	return nil
}

// Stop asks the agent to shut down.
func (a *Agent) Stop() {
	close(a.stopCh)
}

// GetStats returns a snapshot of the counters.
func (a *Agent) GetStats() Stats {
	a.stats.mu.RLock()
	defer a.stats.mu.RUnlock()
	return Stats{
		JobsProcessed:  a.stats.JobsProcessed,
		JobsFailed:     a.stats.JobsFailed,
		LastPollAt:     a.stats.LastPollAt,
		LastJobAt:      a.stats.LastJobAt,
		ConsecutiveErr: a.stats.ConsecutiveErr,
	}
}

// IsSSEActive reports whether push delivery is currently connected.
func (a *Agent) IsSSEActive() bool {
	a.sseMu.RLock()
	defer a.sseMu.RUnlock()
	return a.sseActive
}

func (a *Agent) pollLoop(ctx context.Context, useSSE bool) {
	defer a.wg.Done()

	backoff := a.config.InitialBackoff
	interval := a.config.PollInterval
	if useSSE {
		interval = a.config.FallbackPollInterval
	}
	a.logger.Info("poll loop started",
		zap.Duration("interval", interval),
		zap.Bool("push_primary", useSSE))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.poll(ctx, &backoff)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-a.jobNotify:
			a.logger.Debug("push notification received, fetching job")
			a.poll(ctx, &backoff)
		case <-ticker.C:
			a.poll(ctx, &backoff)
		}
	}
}

func (a *Agent) sseLoop(ctx context.Context) {
	defer a.wg.Done()

	stream := api.NewEventStream(*a.authenticator.MercureInfo(), a.config.Insecure)
	events := make(chan api.JobEvent, 10)

	onConnect := func() {
		a.logger.Debug("connecting to event hub")
	}
	onDisconnect := func(err error) {
		a.sseMu.Lock()
		a.sseActive = false
		a.sseMu.Unlock()
		a.logger.Warn("event hub disconnected", zap.Error(err))
	}

	go stream.SubscribeWithReconnect(ctx, events, onConnect, onDisconnect)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case event := <-events:
			a.sseMu.Lock()
			if !a.sseActive {
				a.sseActive = true
				a.logger.Info("event hub connected")
			}
			a.sseMu.Unlock()

			a.logger.Info("job event",
				zap.String("event", event.Type),
				zap.String("job_id", event.JobID),
				zap.String("job_type", event.JobType),
				zap.String("printer", event.PrinterCode))

			select {
			case a.jobNotify <- struct{}{}:
			default:
			}
		}
	}
}

func (a *Agent) pingLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PingInterval)
	defer ticker.Stop()

	a.ping(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.ping(ctx)
		}
	}
}

func (a *Agent) ping(ctx context.Context) {
	if err := a.authenticator.Ping(ctx); err != nil {
		a.logger.Error("ping failed", zap.Error(err))
	} else {
		a.logger.Debug("ping ok")
	}
}

func (a *Agent) syncLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.checkAndSyncPrinters(ctx)
		}
	}
}

func (a *Agent) checkAndSyncPrinters(ctx context.Context) {
	changes := a.registry.DetectChanges()
	if !changes.Changed() {
		return
	}
	for _, p := range changes.Added {
		a.logger.Info("printer connected",
			zap.String("id", p.ID), zap.String("type", string(p.Type)))
	}
	for _, p := range changes.Removed {
		a.logger.Info("printer disconnected",
			zap.String("id", p.ID), zap.String("type", string(p.Type)))
	}
	a.syncPrinters(ctx)
}

func (a *Agent) syncPrinters(ctx context.Context) {
	printers := a.registry.Available()
	syncInfo := make([]api.PrinterSyncInfo, 0, len(printers))
	for _, p := range printers {
		syncInfo = append(syncInfo, api.PrinterSyncInfo{
			Code:        p.ID,
			Name:        p.ID,
			Type:        string(p.Type),
			Description: p.DevicePath,
		})
	}

	resp, err := a.authenticator.SyncPrinters(ctx, syncInfo)
	if err != nil {
		a.logger.Error("printer sync failed", zap.Error(err))
		return
	}
	a.logger.Info("printer sync ok",
		zap.Int("created", resp.Data.Created),
		zap.Int("updated", resp.Data.Updated),
		zap.Int("removed", resp.Data.Removed),
		zap.Int("total", resp.Data.Total))
}

func (a *Agent) poll(ctx context.Context, backoff *time.Duration) {
	a.stats.mu.Lock()
	a.stats.LastPollAt = time.Now()
	a.stats.mu.Unlock()

	a.registry.RefreshAvailability()

	job, err := a.client.FetchNextJob(ctx, nil)
	if err != nil {
		a.stats.mu.Lock()
		a.stats.ConsecutiveErr++
		a.stats.mu.Unlock()

		a.logger.Error("failed to fetch job", zap.Error(err))
		a.logger.Info("backing off", zap.Duration("delay", *backoff))
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-time.After(*backoff):
		}

		*backoff = time.Duration(float64(*backoff) * a.config.BackoffFactor)
		if *backoff > a.config.MaxBackoff {
			*backoff = a.config.MaxBackoff
		}
		return
	}

	*backoff = a.config.InitialBackoff
	a.stats.mu.Lock()
	a.stats.ConsecutiveErr = 0
	a.stats.mu.Unlock()

	if job == nil {
		a.logger.Debug("no pending jobs")
		return
	}
	a.processJob(ctx, job)
}

func (a *Agent) processJob(ctx context.Context, job *api.Job) {
	a.logger.Info("processing job",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("printer", job.PrinterCode()),
		zap.Int("retry", job.RetryCount))
	a.logger.Debug("job detail",
		zap.String("lease_id", job.LeaseID),
		zap.String("lease_until", job.LeaseUntil),
		zap.ByteString("payload", job.Payload))

	if a.config.DryRun {
		a.logger.Info("dry-run, job skipped", zap.String("job_id", job.ID))
		a.stats.mu.Lock()
		a.stats.LastJobAt = time.Now()
		a.stats.JobsProcessed++
		a.stats.mu.Unlock()

		// ack so the server does not resend the job
		if err := a.client.AckJob(ctx, job.ID, job.LeaseID, true, ""); err != nil {
			a.logger.Error("failed to ack job", zap.Error(err))
		}
		return
	}

	err := a.dispatcher.Dispatch(*job)

	a.stats.mu.Lock()
	a.stats.LastJobAt = time.Now()
	if err != nil {
		a.stats.JobsFailed++
	} else {
		a.stats.JobsProcessed++
	}
	a.stats.mu.Unlock()

	if err != nil {
		a.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
		if ackErr := a.client.AckJob(ctx, job.ID, job.LeaseID, false, err.Error()); ackErr != nil {
			a.logger.Error("failed to ack job failure", zap.Error(ackErr))
		}
		return
	}

	a.logger.Info("job completed", zap.String("job_id", job.ID))
	if ackErr := a.client.AckJob(ctx, job.ID, job.LeaseID, true, ""); ackErr != nil {
		a.logger.Error("failed to ack job", zap.Error(ackErr))
	}
}

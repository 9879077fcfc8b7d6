/*
scheduler.go - Automated certificate regeneration scheduler

PURPOSE:
  Periodically looks for Approved requests whose certificate could not be
  produced at approval time and renders it again. An approval never rolls
  back because of a document failure; this is how the document catches up.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lists entities with certificate.needsRegeneration set
  - Retries each with exponential backoff bounded by MaxElapsed
  - Only document failures are retried; anything else stops the entity
    for this round

CONFIGURATION:
  - CheckInterval: How often to check (REGENERATION_INTERVAL, default 15m)
  - MaxElapsed:    Backoff budget per entity per round (default 30s)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCertificateScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RegenerateCertificate endpoint (manual retry)
  - generic/engine.go: RegenerateCertificate
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/warp/hr-workflow/generic"
)

// CertificateScheduler retries flagged certificates in the background.
type CertificateScheduler struct {
	Engine        *generic.Engine
	CheckInterval time.Duration
	MaxElapsed    time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCertificateScheduler creates a new scheduler.
func NewCertificateScheduler(engine *generic.Engine, log zerolog.Logger) *CertificateScheduler {
	return &CertificateScheduler{
		Engine:        engine,
		CheckInterval: 15 * time.Minute,
		MaxElapsed:    30 * time.Second,
		Enabled:       true,
		log:           log.With().Str("component", "certificate_scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (cs *CertificateScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info().Msg("disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run(cs.ticker, cs.stop)

	cs.log.Info().Dur("interval", cs.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for the current round to finish.
func (cs *CertificateScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.stop = nil
		cs.log.Info().Msg("stopped")
	}
}

func (cs *CertificateScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	cs.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cs.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce processes every flagged entity and returns how many now have a
// certificate.
func (cs *CertificateScheduler) RunOnce(ctx context.Context) int {
	flagged, err := cs.Engine.List(ctx, generic.Filter{
		Statuses:          []generic.Status{generic.StatusApproved},
		NeedsRegeneration: true,
	})
	if err != nil {
		cs.log.Error().Err(err).Msg("listing flagged certificates failed")
		return 0
	}

	regenerated := 0
	for _, ent := range flagged {
		if ctx.Err() != nil {
			break
		}
		if err := cs.regenerate(ctx, ent.ID); err != nil {
			cs.log.Warn().Err(err).Str("entity_id", string(ent.ID)).Msg("certificate still missing")
			continue
		}
		regenerated++
	}
	if len(flagged) > 0 {
		cs.log.Info().Int("flagged", len(flagged)).Int("regenerated", regenerated).Msg("regeneration round complete")
	}
	return regenerated
}

func (cs *CertificateScheduler) regenerate(ctx context.Context, id generic.EntityID) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = cs.MaxElapsed

	return backoff.Retry(func() error {
		_, err := cs.Engine.RegenerateCertificate(ctx, id)
		if err == nil {
			return nil
		}
		if errors.Is(err, generic.ErrDocumentGeneration) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

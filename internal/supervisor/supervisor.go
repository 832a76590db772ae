// Package supervisor wires the components spec.md §6's `components` set
// selects and owns the process's graceful-shutdown sequence, grounded on
// original_source/muchopper/bot/daemon.py's MUCHopper class (component
// gating by the Component enum) and the teacher's cmd/main.go startup/
// shutdown ordering.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/config"
	"github.com/dukepan/muclumbus/internal/crawl"
	"github.com/dukepan/muclumbus/internal/mirror"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/search"
	"github.com/dukepan/muclumbus/internal/store"
)

// Config assembles everything the Supervisor wires components against. Per
// spec §9's "Cyclic references" Design Note, nothing holds a back-reference
// to the Supervisor itself: Scanner and InsideObserver receive the Store
// interface and the shared *crawl.Analyser, and InteractionHandler receives
// a Suggest function value that submits to that Analyser.
type Config struct {
	Manifest config.Manifest
	Store    store.Store
	Client   chatclient.Client
	Logger   *obslog.Logger

	// Disco/avatar request pacing shared by Scanner and Watcher (SPEC_FULL
	// domain-stack addition: golang.org/x/time/rate).
	Limiter *rate.Limiter
}

// Supervisor owns the lifecycle of every crawl/mirror/search component the
// configured manifest selects.
type Supervisor struct {
	cfg Config

	analyser    *crawl.Analyser
	scanner     *crawl.PeriodicJob
	watcher     *crawl.PeriodicJob
	insideObs   *crawl.InsideObserver
	interaction *crawl.InteractionHandler
	mirrorSrv   *mirror.Server
	mirrorClt   *mirror.Client

	Search *search.Service

	// PrivilegedEntities is shared by reference with the InteractionHandler
	// when the interaction component is wired, and always constructed so
	// the admin API has a registry to manage even if that component isn't
	// running.
	PrivilegedEntities *config.PrivilegedEntities
}

// New wires the components named in cfg.Manifest.Components, matching
// MUCHopper.__init__'s component-gated summon() calls. The mirror-client
// mutual-exclusion rule is enforced earlier, at config.Manifest.Validate.
func New(cfg Config) (*Supervisor, error) {
	s := &Supervisor{cfg: cfg}
	s.PrivilegedEntities = config.NewPrivilegedEntities(cfg.Manifest.PrivilegedEntities)

	needsAnalyser := cfg.Manifest.HasComponent(config.ComponentScanner) ||
		cfg.Manifest.HasComponent(config.ComponentWatcher) ||
		cfg.Manifest.HasComponent(config.ComponentInsideman) ||
		cfg.Manifest.HasComponent(config.ComponentInteraction)

	if needsAnalyser {
		analyser, err := crawl.NewAnalyser(crawl.AnalyserConfig{
			Store:  cfg.Store,
			Client: cfg.Client,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: start analyser: %w", err)
		}
		s.analyser = analyser
	}

	if cfg.Manifest.HasComponent(config.ComponentScanner) {
		scanner, err := crawl.NewScanner(crawl.ScannerConfig{
			Store:    cfg.Store,
			Client:   cfg.Client,
			Analyser: s.analyser,
			Logger:   cfg.Logger,
			Limiter:  cfg.Limiter,
		})
		// ExpireAfter left at NewScanner's 7-day default (spec.md §4.4 step 3);
		// no manifest field currently overrides it.
		if err != nil {
			return nil, fmt.Errorf("supervisor: start scanner: %w", err)
		}
		s.scanner = scanner
	}

	if cfg.Manifest.HasComponent(config.ComponentInsideman) {
		s.insideObs = crawl.NewInsideObserver(crawl.InsideObserverConfig{
			Store:    cfg.Store,
			Client:   cfg.Client,
			Analyser: s.analyser,
			Logger:   cfg.Logger,
		})
	}

	if cfg.Manifest.HasComponent(config.ComponentWatcher) {
		isActive := func(string) bool { return false }
		if s.insideObs != nil {
			isActive = s.insideObs.IsActive
		}
		watcher, err := crawl.NewWatcher(crawl.WatcherConfig{
			Store:           cfg.Store,
			Client:          cfg.Client,
			Logger:          cfg.Logger,
			Limiter:         cfg.Limiter,
			AvatarWhitelist: cfg.Manifest.AvatarWhitelist,
			IsActive:        isActive,
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: start watcher: %w", err)
		}
		s.watcher = watcher
	}

	if cfg.Manifest.HasComponent(config.ComponentInteraction) {
		s.interaction = crawl.NewInteractionHandler(crawl.InteractionHandlerConfig{
			Client:             cfg.Client,
			Logger:             cfg.Logger,
			PrivilegedEntities: s.PrivilegedEntities,
			Suggest: func(address string, privileged bool) {
				if s.analyser != nil {
					_ = s.analyser.SubmitNoWait(address, privileged, nil)
				}
			},
		})
	}

	if cfg.Manifest.HasComponent(config.ComponentMirrorServer) {
		mirrorSrv, err := mirror.NewServer(mirror.ServerConfig{
			Store:   cfg.Store,
			Pubsub:  cfg.Client.Pubsub(),
			Service: cfg.Manifest.Mirror.Server.PubsubService,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: start mirror server: %w", err)
		}
		s.mirrorSrv = mirrorSrv
	}

	if cfg.Manifest.HasComponent(config.ComponentMirrorClient) {
		s.mirrorClt = mirror.NewClient(mirror.ClientConfig{
			Store:   cfg.Store,
			Pubsub:  cfg.Client.Pubsub(),
			Service: cfg.Manifest.Mirror.Client.PubsubService,
			Logger:  cfg.Logger,
		})
	}

	if cfg.Manifest.HasComponent(config.ComponentSpokesman) {
		s.Search = search.New(cfg.Store)
	}

	return s, nil
}

// Run starts every wired component against ctx, installs SIGINT/SIGTERM
// handlers, and blocks until ctx is cancelled or a signal arrives —
// mirroring MUCHopper.run's intr_event/connected() race, translated to a
// single root context and errgroup-free WaitGroup join since Go components
// cancel cooperatively rather than via asyncio.wait(FIRST_COMPLETED).
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if s.scanner != nil {
		start(s.scanner.Run)
	}
	if s.watcher != nil {
		start(s.watcher.Run)
	}
	if s.insideObs != nil {
		start(s.insideObs.Run)
	}
	if s.interaction != nil {
		start(s.interaction.Run)
	}
	if s.mirrorSrv != nil {
		if err := s.mirrorSrv.Start(ctx); err != nil {
			return fmt.Errorf("supervisor: start mirror server: %w", err)
		}
	}
	if s.mirrorClt != nil {
		if _, err := s.mirrorClt.Start(ctx); err != nil {
			return fmt.Errorf("supervisor: start mirror client: %w", err)
		}
	}
	if s.Search != nil {
		s.Search.MarkReady()
	}

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		if s.cfg.Logger != nil {
			s.cfg.Logger.Info(ctx, "received shutdown signal", "signal", sig.String())
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn(ctx, "supervisor shutdown timed out waiting for components")
		}
	}

	s.Close()
	return nil
}

// Close releases every component holding a background resource (worker
// pools), including mirror.Server's publish pool. Components whose loops
// only hold a context (InsideObserver, InteractionHandler, mirror.Client)
// exit on cancellation and need no separate close step.
func (s *Supervisor) Close() {
	if s.scanner != nil {
		s.scanner.Close()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.mirrorSrv != nil {
		s.mirrorSrv.Close()
	}
	if s.analyser != nil {
		s.analyser.Close()
	}
}

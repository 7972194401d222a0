package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relayctl/internal/api"
	"relayctl/internal/config"
	"relayctl/internal/directory"
	"relayctl/internal/firewall"
	"relayctl/internal/logger"
	"relayctl/internal/metrics"
	"relayctl/internal/privilege"
	"relayctl/internal/probe"
	"relayctl/internal/region"
	"relayctl/internal/rulesync"
	"relayctl/internal/storage"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Region blocker and latency prober for game relay servers",
	}

	root.AddCommand(
		runCmd(),
		reconcileCmd(),
		probeCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relayctl daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("version", Version).Msg("relayctl starting")

	if !cfg.DryRun && !privilege.Elevated() {
		return fmt.Errorf("firewall rules and raw ICMP sockets require elevation: %w", firewall.ErrPrivilege)
	}

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	if size, err := store.SizeBytes(); err == nil {
		metrics.DBSizeBytes.Set(float64(size))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fetcher := newFetcher(cfg, store, log)
	dir, err := loadDirectory(ctx, cfg, fetcher, store, log)
	if err != nil {
		return err
	}
	log.Info().Int("regions", len(dir.Regions())).Int("servers", dir.Len()).Msg("directory loaded")

	var backend firewall.Backend
	if cfg.DryRun {
		log.Warn().Msg("dry run: firewall untouched")
	} else {
		backend, err = firewall.New(log)
		if err != nil {
			return fmt.Errorf("init firewall backend: %w", err)
		}
		defer backend.Close()
	}

	syncer, err := rulesync.New(rulesync.Config{
		StatusBuffer: cfg.SyncStatusBuffer,
		DryRun:       cfg.DryRun,
	}, backend, store, log)
	if err != nil {
		return fmt.Errorf("init synchronizer: %w", err)
	}

	prober := probe.New(probe.Config{
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.ProbeTimeout,
		Window:   cfg.ProbeWindow,
	}, probe.NewICMPPinger(), log)
	// Probe loops outlive the signal context on purpose: they stop only
	// after the final rule clear, so the display stays live through
	// shutdown.
	proberCtx, proberCancel := context.WithCancel(context.Background())
	defer proberCancel()
	prober.Start(proberCtx)

	ctrl := region.New(dir, syncer, prober, log)

	tracker := &api.SyncTracker{}
	statusSrv := api.New(api.Config{
		Addr:           cfg.StatusAddr,
		MetricsEnabled: cfg.MetricsEnabled,
	}, ctrl, prober, tracker, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return syncer.Run(gctx) })
	g.Go(func() error { return statusSrv.Run(gctx) })
	g.Go(func() error {
		tracker.Run(gctx, syncer.Status())
		return nil
	})
	if cfg.RefreshInterval > 0 {
		g.Go(func() error {
			runPeriodicRefresh(gctx, cfg, fetcher, store, ctrl, log)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	// Unblock everything before exiting; rules must never outlive the
	// process on purpose.
	log.Info().Msg("shutting down, clearing firewall rules")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutCancel()
	if clearErr := ctrl.Shutdown(shutCtx); clearErr != nil {
		log.Error().Err(clearErr).Msg("shutdown clear incomplete, rules may remain")
	}
	prober.Stop()
	return err
}

// newFetcher builds the directory fetcher, seeded with the stored ETag so a
// restart revalidates instead of re-downloading.
func newFetcher(cfg *config.Config, store storage.Store, log zerolog.Logger) *directory.Fetcher {
	cachePath := filepath.Join(cfg.DataDir, "directory.json")
	fetcher := directory.NewFetcher(cfg.DirectoryURL, cachePath, cfg.DirectoryTimeout, log)
	if meta, err := store.DirectoryMeta(); err == nil && meta != nil && meta.URL == cfg.DirectoryURL {
		fetcher.SetETag(meta.ETag)
	}
	return fetcher
}

// loadDirectory fetches the directory, falling back to the on-disk cache so
// the daemon can start offline.
func loadDirectory(ctx context.Context, cfg *config.Config, fetcher *directory.Fetcher, store storage.Store, log zerolog.Logger) (*directory.Directory, error) {
	dir, notModified, err := fetcher.Fetch(ctx)
	if err != nil {
		metrics.DirectoryRefreshes.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("directory fetch failed, trying cache")
		cached, cacheErr := fetcher.LoadCache()
		if cacheErr != nil {
			return nil, fmt.Errorf("directory fetch failed and no usable cache: %w", err)
		}
		return cached, nil
	}
	if notModified {
		metrics.DirectoryRefreshes.WithLabelValues("not_modified").Inc()
	} else {
		metrics.DirectoryRefreshes.WithLabelValues("ok").Inc()
	}
	saveDirectoryMeta(cfg, fetcher, store, log)
	return dir, nil
}

func saveDirectoryMeta(cfg *config.Config, fetcher *directory.Fetcher, store storage.Store, log zerolog.Logger) {
	err := store.SetDirectoryMeta(storage.DirectoryMeta{
		URL:       cfg.DirectoryURL,
		ETag:      fetcher.ETag(),
		FetchedAt: time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("directory metadata write failed")
	}
}

func runPeriodicRefresh(ctx context.Context, cfg *config.Config, fetcher *directory.Fetcher, store storage.Store, ctrl *region.Controller, log zerolog.Logger) {
	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dir, notModified, err := fetcher.Fetch(ctx)
			if err != nil {
				metrics.DirectoryRefreshes.WithLabelValues("error").Inc()
				log.Warn().Err(err).Msg("periodic directory refresh failed, keeping current directory")
				continue
			}
			if notModified {
				metrics.DirectoryRefreshes.WithLabelValues("not_modified").Inc()
				continue
			}
			metrics.DirectoryRefreshes.WithLabelValues("ok").Inc()
			saveDirectoryMeta(cfg, fetcher, store, log)
			ctrl.Refresh(dir)
		}
	}
}

// reconcileCmd removes every tool-owned rule from the host: the recorded
// applied set first, then anything left on the host from an unclean run.
func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Remove all managed firewall rules and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			if !privilege.Elevated() {
				return fmt.Errorf("reconcile requires elevation: %w", firewall.ErrPrivilege)
			}

			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			backend, err := firewall.New(log)
			if err != nil {
				return err
			}
			defer backend.Close()

			syncer, err := rulesync.New(rulesync.Config{StatusBuffer: cfg.SyncStatusBuffer}, backend, store, log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			recorded := len(syncer.Applied())
			if err := syncer.SynchronizeNow(ctx, nil); err != nil {
				return fmt.Errorf("clear recorded rules: %w", err)
			}

			// Sweep rules the record does not know about.
			leftover, err := backend.Blocked(ctx)
			if err != nil {
				return fmt.Errorf("list remaining rules: %w", err)
			}
			for _, addr := range leftover {
				if err := backend.Unblock(ctx, addr); err != nil {
					return fmt.Errorf("remove leftover rule for %s: %w", addr, err)
				}
			}

			fmt.Printf("reconcile complete: recorded=%d leftover=%d\n", recorded, len(leftover))
			return nil
		},
	}
}

// probeCmd runs one probe cycle against every directory server and prints
// the results.
func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe all directory servers once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			if !privilege.Elevated() {
				return fmt.Errorf("raw ICMP sockets require elevation: %w", firewall.ErrPrivilege)
			}

			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			fetcher := newFetcher(cfg, store, log)
			dir, err := loadDirectory(ctx, cfg, fetcher, store, log)
			if err != nil {
				return err
			}

			pinger := probe.NewICMPPinger()
			type outcome struct {
				rtt time.Duration
				err error
			}
			results := make(map[netip.Addr]outcome, dir.Len())
			var mu sync.Mutex

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(32)
			for _, addr := range dir.AllAddrs() {
				addr := addr
				g.Go(func() error {
					rtt, err := pinger.Ping(gctx, addr, cfg.ProbeTimeout)
					mu.Lock()
					results[addr] = outcome{rtt: rtt, err: err}
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, rs := range dir.Regions() {
				for _, srv := range dir.ServersIn(rs) {
					res := results[srv.Addr.Unmap()]
					switch {
					case res.err == nil:
						fmt.Printf("%-8s %-20s %-40s %s\n", rs, srv.Label, srv.Addr, res.rtt.Round(time.Microsecond))
					case errors.Is(res.err, probe.ErrTimeout):
						fmt.Printf("%-8s %-20s %-40s timeout\n", rs, srv.Label, srv.Addr)
					default:
						fmt.Printf("%-8s %-20s %-40s error: %v\n", rs, srv.Label, srv.Addr, res.err)
					}
				}
			}
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relayctl %s\n", Version)
		},
	}
}

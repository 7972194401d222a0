// Package api is the pull-model status surface: region state, probe
// results, and sync outcomes over local HTTP. It never mutates anything
// except through the controller's toggle.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"relayctl/internal/probe"
	"relayctl/internal/region"
)

// Controller is the slice of the region controller the API needs.
type Controller interface {
	Snapshot() []region.RegionStatus
	Toggle(region string) (bool, error)
}

// Prober exposes the live probe table.
type Prober interface {
	Snapshot() map[netip.Addr]probe.Result
}

// Config holds the status server settings.
type Config struct {
	Addr           string
	MetricsEnabled bool
}

// Server serves the status API on a local listener.
type Server struct {
	cfg     Config
	ctrl    Controller
	prober  Prober
	tracker *SyncTracker
	log     zerolog.Logger
}

// New builds a status Server.
func New(cfg Config, ctrl Controller, prober Prober, tracker *SyncTracker, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, ctrl: ctrl, prober: prober, tracker: tracker, log: log}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("status API listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(rr chi.Router) {
		rr.Get("/regions", s.handleRegions)
		rr.Post("/regions/{region}/toggle", s.handleToggle)
		rr.Get("/probes", s.handleProbes)
		rr.Get("/sync", s.handleSync)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, "ok", struct{}{})
	})
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

type serverView struct {
	Addr      string  `json:"addr"`
	Label     string  `json:"label"`
	Applied   bool    `json:"applied"`
	Probed    bool    `json:"probed"`
	Reachable bool    `json:"reachable"`
	RTTMillis float64 `json:"rtt_ms"`
	LossRatio float64 `json:"loss_ratio"`
	Samples   int     `json:"samples"`
}

type regionView struct {
	Name    string       `json:"name"`
	Blocked bool         `json:"blocked"`
	Applied int          `json:"applied"`
	Pending int          `json:"pending"`
	Servers []serverView `json:"servers"`
}

func (s *Server) handleRegions(w http.ResponseWriter, _ *http.Request) {
	views := lo.Map(s.ctrl.Snapshot(), func(rs region.RegionStatus, _ int) regionView {
		return regionView{
			Name:    rs.Name,
			Blocked: rs.Blocked,
			Applied: rs.Applied,
			Pending: rs.Pending,
			Servers: lo.Map(rs.Servers, func(sv region.ServerStatus, _ int) serverView {
				return serverView{
					Addr:      sv.Server.Addr.String(),
					Label:     sv.Server.Label,
					Applied:   sv.Applied,
					Probed:    sv.HasProbe,
					Reachable: sv.Probe.Reachable,
					RTTMillis: float64(sv.Probe.RTT) / float64(time.Millisecond),
					LossRatio: sv.Probe.LossRatio,
					Samples:   sv.Probe.Samples,
				}
			}),
		}
	})
	ok(w, "regions", views)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "region")
	blocked, err := s.ctrl.Toggle(name)
	if err != nil {
		notFound(w, err)
		return
	}
	ok(w, "region toggled", map[string]interface{}{
		"region":  name,
		"blocked": blocked,
	})
}

type probeView struct {
	Reachable  bool      `json:"reachable"`
	RTTMillis  float64   `json:"rtt_ms"`
	LossRatio  float64   `json:"loss_ratio"`
	Samples    int       `json:"samples"`
	LastUpdate time.Time `json:"last_update"`
}

func (s *Server) handleProbes(w http.ResponseWriter, _ *http.Request) {
	snap := s.prober.Snapshot()
	views := make(map[string]probeView, len(snap))
	for addr, res := range snap {
		views[addr.String()] = probeView{
			Reachable:  res.Reachable,
			RTTMillis:  float64(res.RTT) / float64(time.Millisecond),
			LossRatio:  res.LossRatio,
			Samples:    res.Samples,
			LastUpdate: res.LastUpdate,
		}
	}
	ok(w, "probes", views)
}

type syncView struct {
	At      time.Time `json:"at"`
	Applied int       `json:"applied"`
	Added   int       `json:"added"`
	Removed int       `json:"removed"`
	Failed  int       `json:"failed"`
	Error   string    `json:"error,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	st, have := s.tracker.Last()
	if !have {
		ok(w, "no sync pass yet", nil)
		return
	}
	view := syncView{
		At:      st.At,
		Applied: st.Applied,
		Added:   st.Added,
		Removed: st.Removed,
		Failed:  st.Failed,
	}
	if st.Err != nil {
		view.Error = st.Err.Error()
	}
	ok(w, "sync", view)
}

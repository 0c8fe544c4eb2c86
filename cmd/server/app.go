package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/quotagate/pkg/admission"
	"github.com/rhuss/quotagate/pkg/api"
	"github.com/rhuss/quotagate/pkg/auth"
	"github.com/rhuss/quotagate/pkg/auth/apikey"
	"github.com/rhuss/quotagate/pkg/auth/jwt"
	"github.com/rhuss/quotagate/pkg/auth/noop"
	"github.com/rhuss/quotagate/pkg/config"
	"github.com/rhuss/quotagate/pkg/counter"
	"github.com/rhuss/quotagate/pkg/counter/backend"
	"github.com/rhuss/quotagate/pkg/observability"
	"github.com/rhuss/quotagate/pkg/quota"
	"github.com/rhuss/quotagate/pkg/transport"
	transporthttp "github.com/rhuss/quotagate/pkg/transport/http"
	"github.com/rhuss/quotagate/pkg/transport/proxy"
)

const readinessTimeout = 2 * time.Second

// app holds the wired gateway.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    counter.Store
	guarded  *counter.Guarded
	admitter *quota.Admitter
	routes   []admission.Route
	server   *transporthttp.Server
}

// newApp builds every component from cfg. An unreachable store or an
// invalid policy is returned as an error and the process does not start.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	table, err := cfg.BuildPolicyTable()
	if err != nil {
		return nil, err
	}
	routes, err := cfg.BuildRoutes()
	if err != nil {
		return nil, err
	}
	estimator, err := cfg.BuildEstimator()
	if err != nil {
		return nil, err
	}
	chain, err := newAuthChain(cfg.Auth)
	if err != nil {
		return nil, err
	}

	store, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	guarded := backend.Guard(store, cfg.Store)

	admitter := quota.NewAdmitter(guarded, table,
		quota.WithObserver(observability.NewRecorder(logger)),
		quota.WithLogger(logger),
		quota.WithDegradedCap(cfg.BuildDegradedCap()),
		quota.WithStoreTimeout(cfg.Store.Timeout),
		quota.WithKeyPrefix(cfg.Store.KeyPrefix),
	)

	downstream, err := proxy.New(proxy.Config{
		Target:     cfg.Downstream.URL,
		Timeout:    cfg.Downstream.Timeout,
		CostHeader: cfg.Downstream.CostHeader,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		guarded:  guarded,
		admitter: admitter,
		routes:   routes,
	}

	authn := auth.Middleware(chain, admission.TrustedHeaderAddress(cfg.Server.TrustedProxyHeader), nil)
	admissionOpts := admission.Options{
		Estimator:       estimator,
		RefundOnFailure: cfg.Quota.RefundOnFailure,
		Logger:          logger,
	}

	mux := http.NewServeMux()
	for _, route := range routes {
		mux.Handle(route.Pattern, authn(admission.Middleware(admitter, route, admissionOpts)(downstream)))
	}
	mux.Handle("GET /quota/usage", authn(admission.UsageHandler(admitter, quota.EvaluationOrder, logger)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", a.ready)
	if !slices.ContainsFunc(routes, func(r admission.Route) bool { return r.Pattern == "/" }) {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			transport.WriteAPIError(w, api.NewNotFoundError("no route for "+r.URL.Path))
		})
	}
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	a.server = transporthttp.NewServer(mux,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
	)
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *app) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP and sweeps expired counters until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(ctx)
	})
	if sweeper, ok := a.store.(counter.Sweeper); ok && a.cfg.Store.Postgres.SweepInterval > 0 {
		g.Go(func() error {
			runSweeper(ctx, sweeper, a.cfg.Store.Postgres.SweepInterval, a.logger)
			return nil
		})
	}
	return g.Wait()
}

// Close releases the store connection.
func (a *app) Close() error {
	return a.guarded.Close()
}

type readiness struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Mode    string `json:"mode"`
	Breaker string `json:"breaker"`
	Error   string `json:"error,omitempty"`
}

// ready reports 200 when the store answers a ping. Degraded mode alone
// does not fail readiness: the gateway keeps admitting under the cap.
func (a *app) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	body := readiness{
		Status:  "ready",
		Store:   a.cfg.Store.Type,
		Mode:    a.admitter.Mode().String(),
		Breaker: a.guarded.Breaker().State().String(),
	}
	status := http.StatusOK
	if err := a.store.Ping(ctx); err != nil {
		body.Status = "unavailable"
		body.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	transport.WriteJSON(w, status, body)
}

func runSweeper(ctx context.Context, s counter.Sweeper, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("counter sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("expired counters removed", "count", n)
			}
		}
	}
}

func newAuthChain(cfg config.AuthConfig) (*auth.AuthChain, error) {
	chain := &auth.AuthChain{
		DefaultDecision: auth.No,
		AnonymousTier:   cfg.AnonymousTier,
	}
	if cfg.AllowAnonymous {
		chain.DefaultDecision = auth.Yes
	}

	switch cfg.Type {
	case "none":
		chain.Authenticators = append(chain.Authenticators, &noop.Authenticator{Tier: cfg.AnonymousTier})
		return chain, nil
	case "jwt":
		chain.Authenticators = append(chain.Authenticators, jwt.New(jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			JWKSURL:     cfg.JWT.JWKSURL,
			Secret:      []byte(cfg.JWT.Secret),
			UserClaim:   cfg.JWT.UserClaim,
			TierClaim:   cfg.JWT.TierClaim,
			DefaultTier: cfg.JWT.DefaultTier,
			ScopesClaim: cfg.JWT.ScopesClaim,
			CacheTTL:    cfg.JWT.CacheTTL,
		}))
	case "apikey":
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	if len(cfg.APIKeys) > 0 {
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			tier := k.ServiceTier
			if tier == "" {
				tier = auth.DefaultAnonymousTier
			}
			entries = append(entries, apikey.RawKeyEntry{
				Key:      k.Key,
				Identity: auth.Identity{Subject: k.Subject, ServiceTier: tier},
			})
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(entries))
	}
	return chain, nil
}

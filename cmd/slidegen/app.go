package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/thywilljoshua/slidegen/internal/ai"
	"github.com/thywilljoshua/slidegen/internal/config"
	"github.com/thywilljoshua/slidegen/internal/identity"
	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/logging"
	"github.com/thywilljoshua/slidegen/internal/pipeline"
	"github.com/thywilljoshua/slidegen/internal/prefs"
	"github.com/thywilljoshua/slidegen/internal/quota"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *http.Client
	ids     identity.Provider
	store   quota.Store
	gate    *quota.Gate
	backend invoker.Backend
	inv     *invoker.Invoker
	prefs   *prefs.Store
	closers []func() error
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	return &app{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.HTTP.Timeout},
		ids:    identity.Resolve(cfg.Identity.AccountID, identity.NewAnonymous(cfg.Identity.FingerprintFile)),
		prefs:  prefs.NewStore(cfg.Prefs.Path),
	}
}

func (a *app) initQuota() error {
	switch a.cfg.Quota.Store {
	case "redis":
		rs, err := quota.NewRedisStoreWithURL(a.cfg.Quota.RedisURL, a.cfg.Quota.Prefix)
		if err != nil {
			return err
		}
		a.store = rs
		a.closers = append(a.closers, rs.Close)
	case "file":
		a.store = quota.NewFileStore(a.cfg.Quota.Path)
	default:
		a.store = quota.NewMemoryStore()
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	a.gate = quota.NewGate(a.store, a.cfg.QuotaLimits(), a.logger, quota.WithLocation(loc))
	return nil
}

func (a *app) initInvoker(ctx context.Context) error {
	switch a.cfg.Backend {
	case "gemini":
		g, err := ai.NewGemini(ctx, a.cfg.Gemini.APIKey, a.cfg.Gemini.Workdir, a.cfg.Gemini.Parallel, a.logger)
		if err != nil {
			return err
		}
		a.backend = g
	default:
		a.backend = invoker.NewHTTPBackend(a.client, a.logger)
	}
	a.inv = invoker.New(a.backend, a.cfg.InvokerLimits(), a.logger,
		invoker.WithRate(a.cfg.Rate.PerMinute, a.cfg.Rate.Burst))
	return nil
}

// wire builds everything a generation run needs.
func (a *app) wire(ctx context.Context) error {
	if err := a.initQuota(); err != nil {
		return err
	}
	return a.initInvoker(ctx)
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// settings layers flags over the config file, then last-used preferences for
// kind, then built-in defaults.
func (a *app) settings(kind workflow.Kind, flags invoker.Settings) invoker.Settings {
	s := prefs.Fill(flags, a.cfg.Settings())
	if last, ok, err := a.prefs.Get(kind); err != nil {
		a.logger.Warn("preferences unreadable", "path", a.cfg.Prefs.Path, "error", err)
	} else if ok {
		s = prefs.Fill(s, last)
	}
	s = prefs.Fill(s, config.Builtin)
	a.logger.Debug("run settings",
		"kind", kind,
		"endpoint", s.Endpoint,
		"model", s.Model,
		"image_model", s.ImageModel,
		"api_key", logging.RedactValue(s.APIKey))
	return s
}

func (a *app) remember(kind workflow.Kind, s invoker.Settings) {
	if err := a.prefs.Put(kind, s); err != nil {
		a.logger.Warn("could not save preferences", "error", err)
	}
}

func (a *app) controller(kind workflow.Kind, review bool) (*pipeline.Controller, error) {
	c, err := pipeline.New(pipeline.Options{
		Kind:          kind,
		Invoker:       a.inv,
		Gate:          a.gate,
		Identity:      a.ids,
		Logger:        a.logger,
		ReviewOutline: review,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	return c, nil
}

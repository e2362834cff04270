package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/vetcare/clinic-finance/internal/app"
	"github.com/vetcare/clinic-finance/pkg/config"
	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

// session is an open set of finance services plus the resources behind them.
type session struct {
	Services *app.Services
	Logger   *logger.Logger
	Config   *config.Config
	close    func() error
}

func (s *session) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

type opener func(ctx context.Context) (*session, error)

func openServices(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logg := logger.New(logger.Options{
		ServiceName: "financectl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}

	services, err := app.Build(ctx, app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("build finance services: %w", err), dbClient.Close())
	}

	return &session{
		Services: services,
		Logger:   logg,
		Config:   cfg,
		close: func() error {
			return multierr.Append(services.Close(), dbClient.Close())
		},
	}, nil
}

/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eslam5464/JiraHub/internal/adapters/jira"
	"github.com/eslam5464/JiraHub/internal/cache"
	"github.com/eslam5464/JiraHub/internal/config"
	"github.com/eslam5464/JiraHub/internal/domain"
	apphttp "github.com/eslam5464/JiraHub/internal/http"
	"github.com/eslam5464/JiraHub/internal/jobs"
	"github.com/eslam5464/JiraHub/internal/logger"
	"github.com/eslam5464/JiraHub/internal/services"
)

// envCredentials serves one credential set from the environment for every
// tenant. Multi-tenant deployments swap in a provider backed by encrypted
// storage.
type envCredentials struct {
	cfg config.Config
}

func (p envCredentials) Credentials(_ context.Context, _ string) (domain.Credentials, error) {
	return domain.Credentials{
		BaseURL:  p.cfg.JiraBaseURL,
		Email:    p.cfg.JiraEmail,
		APIToken: p.cfg.JiraAPIToken,
		ProxyURL: p.cfg.JiraProxyURL,
	}, nil
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	store := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
	defer store.Close()
	snapshots := cache.New(store, log)

	factory := func(creds domain.Credentials) services.JiraClient {
		return jira.NewClient(creds.BaseURL, creds.Email, creds.APIToken, log,
			jira.WithProxy(creds.ProxyURL),
			jira.WithTimeout(cfg.HTTPTimeout),
			jira.WithRetries(cfg.MaxRetries))
	}

	svc := services.New(cfg, log, snapshots, envCredentials{cfg: cfg}, factory)

	router := apphttp.NewRouter(cfg, log, svc)

	cr := jobs.NewCron(cfg, log, svc)
	cr.Start()
	defer cr.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil { log.Error().Err(err).Msg("http server error") }
	}

	time.Sleep(500 * time.Millisecond)
}

/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Namespaces distinguishing cached payload kinds within a tenant/project scope.
const (
	NamespaceIssues      = "issues"
	NamespaceSPField     = "sp_field"
	NamespaceSprintField = "sprint_field"
	NamespaceTeamField   = "team_field"
	NamespaceLastRefresh = "last_refresh"
)

// Store is the underlying string-keyed key-value store. Values are JSON text;
// the store enforces no schema. No TTL anywhere: a value lives until deleted
// or overwritten.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

// Snapshots mediates between the remote API and metric computation. Store
// failures degrade to cache misses: the pipeline always has the fallback of
// re-fetching from the remote API, so connectivity loss here is never fatal.
type Snapshots struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Snapshots {
	return &Snapshots{store: store, log: log}
}

// Key shape: jira:<tenant>:<project>:<namespace>, or jira:<tenant>:<namespace>
// for tenant-global entries.
func key(tenant, namespace, projectKey string) string {
	if projectKey != "" { return "jira:" + tenant + ":" + projectKey + ":" + namespace }
	return "jira:" + tenant + ":" + namespace
}

// Get decodes the cached payload into out. Returns false on miss, store
// failure, or undecodable payload.
func (s *Snapshots) Get(ctx context.Context, tenant, namespace, projectKey string, out any) bool {
	k := key(tenant, namespace, projectKey)
	raw, ok, err := s.store.Get(ctx, k)
	if err != nil {
		s.log.Warn().Err(err).Str("key", namespace).Msg("cache get failed")
		return false
	}
	if !ok { return false }
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn().Err(err).Str("key", namespace).Msg("cache payload undecodable")
		return false
	}
	return true
}

// Set overwrites the namespace value wholesale. Serialization is lossless for
// arbitrary nested structures, custom fields included.
func (s *Snapshots) Set(ctx context.Context, tenant, namespace, projectKey string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", namespace).Msg("cache encode failed")
		return
	}
	if err := s.store.Set(ctx, key(tenant, namespace, projectKey), string(raw)); err != nil {
		s.log.Warn().Err(err).Str("key", namespace).Msg("cache set failed")
	}
}

func (s *Snapshots) Invalidate(ctx context.Context, tenant, namespace, projectKey string) {
	if err := s.store.Del(ctx, key(tenant, namespace, projectKey)); err != nil {
		s.log.Warn().Err(err).Str("key", namespace).Msg("cache delete failed")
	}
}

// InvalidateAll drops every cached entry for a tenant.
func (s *Snapshots) InvalidateAll(ctx context.Context, tenant string) {
	n, err := s.store.DelPrefix(ctx, "jira:"+tenant+":")
	if err != nil {
		s.log.Warn().Err(err).Msg("cache invalidate_all failed")
		return
	}
	if n > 0 { s.log.Info().Int("keys", n).Str("tenant", tenant).Msg("cache invalidated") }
}

func (s *Snapshots) LastRefresh(ctx context.Context, tenant, projectKey string) *time.Time {
	raw, ok, err := s.store.Get(ctx, key(tenant, NamespaceLastRefresh, projectKey))
	if err != nil || !ok { return nil }
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil { return nil }
	return &t
}

func (s *Snapshots) SetLastRefresh(ctx context.Context, tenant, projectKey string, at time.Time) {
	if err := s.store.Set(ctx, key(tenant, NamespaceLastRefresh, projectKey), at.UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn().Err(err).Msg("cache set last_refresh failed")
	}
}

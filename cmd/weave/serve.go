// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/weave/pkg/a2a"
	"github.com/kadirpekel/weave/pkg/config"
	"github.com/kadirpekel/weave/pkg/credentials"
	"github.com/kadirpekel/weave/pkg/executor"
	"github.com/kadirpekel/weave/pkg/model"
	"github.com/kadirpekel/weave/pkg/model/anthropic"
	"github.com/kadirpekel/weave/pkg/model/openai"
	"github.com/kadirpekel/weave/pkg/observability"
	"github.com/kadirpekel/weave/pkg/reqctx"
	"github.com/kadirpekel/weave/pkg/server"
	"github.com/kadirpekel/weave/pkg/session"
	"github.com/kadirpekel/weave/pkg/storage"
)

// ServeCmd starts the A2A server.
type ServeCmd struct{}

// ValidateCmd validates the configuration file.
type ValidateCmd struct{}

func (v *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("OK: %d graph(s), %d agent(s)\n", len(cfg.Graphs), len(cfg.Agents))
	return nil
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	driver := model.NewDriver(registry)

	recorder, promRegistry, err := observability.Setup()
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}

	credResolver := buildCredentials(cfg)
	scope := storage.Scope{TenantID: cfg.TenantID, ProjectID: cfg.ProjectID}

	exec := executor.New(executor.Config{
		Driver:   driver,
		Ledger:   session.Global(),
		Store:    store,
		Resolver: reqctx.NewCached(reqctx.Static(cfg.Context)),
		Recorder: recorder,
		Sources:  executor.MCPSources(credResolver, store, scope),
	})

	graphID := ""
	if len(cfg.Graphs) > 0 {
		graphID = cfg.Graphs[0].ID
	}
	handler := executor.NewTaskHandler(executor.HandlerConfig{
		Executor:  exec,
		Store:     store,
		Router:    executor.NewRouter(a2a.NewClient(), credResolver, store, scope),
		Finalizer: executor.NewFinalizer(driver, store, scope),
		Scope:     scope,
		GraphID:   graphID,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(handler, promRegistry).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting A2A server",
			"addr", cfg.ListenAddr,
			"graphs", len(cfg.Graphs),
			"agents", len(cfg.Agents))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildStore(cfg *config.Config) (storage.Store, func(), error) {
	defs := cfg.SeedDefinitions()
	switch cfg.Storage.Driver {
	case "sqlite":
		runtime, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewComposite(defs, runtime), func() { _ = runtime.Close() }, nil
	default:
		return defs, func() {}, nil
	}
}

func buildProviders(cfg *config.Config) (*model.Registry, error) {
	registry := model.NewRegistry()
	for name, p := range cfg.Providers {
		apiKey := os.Getenv(p.APIKeyEnv)
		switch p.Type {
		case "anthropic":
			registry.Register(anthropic.New(
				anthropic.WithAPIKey(apiKey),
				anthropic.WithBaseURL(p.BaseURL),
			))
		case "openai":
			registry.Register(openai.New(
				openai.WithName(name),
				openai.WithAPIKey(apiKey),
				openai.WithBaseURL(p.BaseURL),
			))
		default:
			return nil, fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
	}
	if cfg.DefaultProvider != "" {
		registry.SetDefault(cfg.DefaultProvider)
	}
	return registry, nil
}

func buildCredentials(cfg *config.Config) credentials.Resolver {
	resolver := credentials.NewStoreResolver()
	for _, store := range cfg.CredentialStores {
		switch store.Type {
		case "env":
			resolver.Register(credentials.NewEnvStore(store.Name))
		default:
			resolver.Register(credentials.NewStaticStore(store.Name, store.Values))
		}
	}
	return resolver
}

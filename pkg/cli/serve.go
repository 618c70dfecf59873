package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/cli/config"
	httpctrl "github.com/secmon-lab/ingestd/pkg/controller/http"
	natsctrl "github.com/secmon-lab/ingestd/pkg/controller/nats"
	"github.com/secmon-lab/ingestd/pkg/service/catalog"
	"github.com/secmon-lab/ingestd/pkg/service/embedding"
	"github.com/secmon-lab/ingestd/pkg/usecase"
	"github.com/secmon-lab/ingestd/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var enableHooks bool
	var enableMetrics bool
	var maxBodyBytes int
	var ingestCfg config.Ingest
	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var storageCfg config.Storage
	var renderCfg config.Render
	var natsCfg config.NATS
	var sweeperCfg config.Sweeper

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("INGESTD_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "hooks",
			Usage:       "Enable the HTTP push trigger endpoints",
			Value:       true,
			Sources:     cli.EnvVars("INGESTD_HOOKS"),
			Destination: &enableHooks,
		},
		&cli.BoolFlag{
			Name:        "metrics",
			Usage:       "Expose Prometheus metrics on /metrics",
			Value:       true,
			Sources:     cli.EnvVars("INGESTD_METRICS"),
			Destination: &enableMetrics,
		},
		&cli.IntFlag{
			Name:        "max-body-bytes",
			Usage:       "Maximum request body size",
			Value:       1 << 20,
			Sources:     cli.EnvVars("INGESTD_MAX_BODY_BYTES"),
			Destination: &maxBodyBytes,
		},
	}

	flags = append(flags, ingestCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, storageCfg.Flags()...)
	flags = append(flags, renderCfg.Flags()...)
	flags = append(flags, natsCfg.Flags()...)
	flags = append(flags, sweeperCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server and trigger subscriber",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			cfg, err := ingestCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load ingest configuration")
			}
			logger.Info("Serve configuration",
				"ingest", ingestCfg,
				"repository", repoCfg,
				"storage", storageCfg,
				"render", renderCfg,
				"nats", natsCfg,
				"sweeper", sweeperCfg)

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logger.Error("failed to close repository", "error", err.Error())
				}
			}()

			objects, err := storageCfg.Configure(ctx)
			if err != nil {
				return err
			}
			if objects != nil {
				defer func() {
					if err := objects.Close(); err != nil {
						logger.Error("failed to close storage client", "error", err.Error())
					}
				}()
			}

			extractor, err := newExtractor(ctx, cfg, extractorDeps{
				geminiCfg: &geminiCfg,
				renderCfg: &renderCfg,
				objects:   objects,
			})
			if err != nil {
				return err
			}

			ucOpts := []usecase.Option{
				usecase.WithIngestConfig(cfg),
				usecase.WithExtractor(extractor),
			}

			llmClient, err := geminiCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to configure LLM client")
			}
			if llmClient != nil {
				embedder, err := embedding.New(llmClient, cfg.Embedding)
				if err != nil {
					return goerr.Wrap(err, "failed to initialize embedding service")
				}
				structure, err := catalog.New(llmClient, cfg.Catalog)
				if err != nil {
					return goerr.Wrap(err, "failed to initialize catalog service")
				}
				ucOpts = append(ucOpts, usecase.WithEmbedder(embedder), usecase.WithCatalogService(structure))
				logger.Info("Gemini enabled", "gemini", geminiCfg)
			} else {
				logger.Warn("Gemini project not configured, knowledge and catalog ingestion will fail as not configured")
			}

			uc := usecase.New(repo, ucOpts...)

			httpOpts := []httpctrl.Options{
				httpctrl.WithHooks(enableHooks),
				httpctrl.WithMetrics(enableMetrics),
				httpctrl.WithMaxBodyBytes(int64(maxBodyBytes)),
				httpctrl.WithInlineRun(!natsCfg.Enabled()),
			}

			var subscriber *natsctrl.Subscriber
			if natsCfg.Enabled() {
				nc, js, err := natsCfg.Connect()
				if err != nil {
					return err
				}
				defer func() {
					if err := nc.Drain(); err != nil {
						logger.Error("failed to drain NATS connection", "error", err.Error())
					}
				}()

				httpOpts = append(httpOpts, httpctrl.WithJobNotifier(natsctrl.NewPublisher(js, natsCfg.Controller())))

				subscriber = natsctrl.NewSubscriber(js, uc.Knowledge, uc.Catalog, natsCfg.Controller())
				if err := subscriber.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start trigger subscriber")
				}
			}

			sweeper := sweeperCfg.Configure(repo)
			if sweeper != nil {
				if err := sweeper.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start stale sweeper")
				}
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc.Catalog, uc.Knowledge, httpOpts...),
				ReadHeaderTimeout: 30 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting HTTP server", "addr", addr, "hooks", enableHooks, "metrics", enableMetrics)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			stopWorkers := func() {
				if subscriber != nil {
					subscriber.Stop()
				}
				if sweeper != nil {
					sweeper.Stop()
				}
			}

			select {
			case err := <-errCh:
				stopWorkers()
				return err
			case sig := <-sigCh:
				logger.Info("Received shutdown signal", "signal", sig)

				stopWorkers()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logger.Info("Server shutdown completed")
				return nil
			}
		},
	}
}

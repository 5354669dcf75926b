package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/webential/deskrouter/engine"
	"github.com/webential/deskrouter/engine/classifier"
	"github.com/webential/deskrouter/engine/collector"
	"github.com/webential/deskrouter/engine/corpus"
	"github.com/webential/deskrouter/engine/delivery"
	"github.com/webential/deskrouter/engine/embedding"
	"github.com/webential/deskrouter/engine/matcher"
	"github.com/webential/deskrouter/engine/session"
	"github.com/webential/deskrouter/internal/profile"
	"github.com/webential/deskrouter/internal/version"
	"github.com/webential/deskrouter/server"
)

var rootCmd = &cobra.Command{
	Use:   "deskrouter",
	Short: `An intent routing engine. Classifies support queries, collects the context each department needs, and hands complete requests to the right team.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:       viper.GetString("mode"),
			Addr:       viper.GetString("addr"),
			Port:       viper.GetInt("port"),
			Data:       viper.GetString("data"),
			CorpusPath: viper.GetString("corpus"),
			Version:    version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		eng, embedCache, cleanup, err := buildEngine(ctx, instanceProfile)
		if err != nil {
			slog.Error("failed to build engine", "error", err)
			return
		}
		defer cleanup()

		s := server.NewServer(instanceProfile, eng, embedCache)
		eng.StartSweeper(ctx)

		stopWatch, err := eng.Corpus().Watch(ctx, instanceProfile.CorpusPath)
		if err != nil {
			slog.Warn("corpus hot-reload disabled", "error", err)
		} else {
			defer stopWatch()
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM.
		signal.Notify(c, terminationSignals...)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		printGreetings(instanceProfile)
		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			cancel()
		}

		<-ctx.Done()
	},
}

// buildEngine wires the routing pipeline from the profile.
func buildEngine(ctx context.Context, p *profile.Profile) (*engine.Engine, *embedding.CachingProvider, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	corp, err := corpus.New(ctx, corpus.NewFileLoader(p.CorpusPath))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load corpus: %w", err)
	}

	provider := embedding.NewCachingProvider(embedding.NewProvider(embedding.Config{
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Model:      p.EmbeddingModel,
		Dimensions: p.EmbeddingDimensions,
		Timeout:    p.EmbeddingTimeout,
		RPS:        p.EmbeddingRPS,
	}), embedding.CacheConfig{})

	var backend matcher.Backend
	if p.VectorDSN != "" {
		pg, err := matcher.NewPgvectorBackend(p.VectorDSN, p.EmbeddingDimensions)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("connect vector backend: %w", err)
		}
		cleanups = append(cleanups, func() { pg.Close() })
		backend = pg
	}

	var dispatcher delivery.Dispatcher = delivery.NoopDispatcher{}
	if p.IsDeliveryEnabled() {
		dispatcher = delivery.NewHTTPDispatcher(delivery.HTTPConfig{
			Endpoint: p.DeliveryEndpoint,
			APIKey:   p.DeliveryAPIKey,
			From:     p.DeliveryFrom,
			FromName: p.DeliveryFromName,
			Timeout:  p.DeliveryTimeout,
		})
	} else {
		slog.Warn("delivery not configured, composed requests will be logged only")
	}

	var archiver session.Archiver
	if p.ArchivePath != "" {
		a, err := session.NewSQLiteArchiver(p.ArchivePath)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("open session archive: %w", err)
		}
		archiver = a
	}

	eng := engine.New(
		corp,
		matcher.New(provider, backend),
		collector.New(nil, collector.Config{
			MaxClarifyTurns: p.MaxClarifyTurns,
			MaxSlotRetries:  p.MaxSlotRetries,
		}),
		delivery.NewClient(dispatcher, delivery.Config{
			Attempts: p.DeliveryAttempts,
			Backoff:  p.DeliveryBackoff,
		}),
		nil,
		archiver,
		nil,
		engine.Config{
			Thresholds: classifier.Thresholds{
				High:   float32(p.RouteHigh),
				Margin: float32(p.RouteMargin),
				Floor:  float32(p.RouteFloor),
			},
			SessionTimeout: p.SessionTimeout,
			SweepInterval:  p.SweepInterval,
		},
	)
	provider.SetMetrics(eng.Metrics())
	return eng, provider, cleanup, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28090)
	viper.SetDefault("corpus", "config/departments.json")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("corpus", "config/departments.json", "path to the department corpus file")

	for _, flag := range []string{"mode", "addr", "port", "data", "corpus"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("deskrouter")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("DeskRouter %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}
	fmt.Printf("Corpus: %s\n", p.CorpusPath)
	fmt.Printf("Mode: %s\n", p.Mode)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"llm_relay/internal/catalog"
	"llm_relay/internal/config"
	"llm_relay/internal/engine"
	"llm_relay/internal/models"
	"llm_relay/internal/scoring"
	"llm_relay/internal/stats"
	"llm_relay/internal/storage"
	"llm_relay/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("Failed to load providers: %v", err)
	}

	ctx := context.Background()

	var sink scoring.EventSink
	var pipeline *stats.Pipeline
	if cfg.Stats.Enabled {
		pipeline, err = buildPipeline(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to build stats pipeline: %v", err)
		}
		pipeline.Start(ctx)
		defer pipeline.Stop()
		sink = pipeline
	}

	eng, err := engine.New(providers, transport.NewHTTPTransport(), engine.Config{
		FailureThreshold: cfg.Engine.FailureThreshold,
		RerankInterval:   cfg.Engine.RerankInterval,
		Catalog: catalog.Config{
			TTL:             cfg.Catalog.TTL,
			ProviderTimeout: cfg.Catalog.ProviderTimeout,
			RefreshTimeout:  cfg.Catalog.RefreshTimeout,
			MaxInFlight:     cfg.Catalog.MaxInFlight,
		},
		EventSink: sink,
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	args := os.Args[1:]
	command := ""
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "list":
		runList(ctx, eng)
	case "status":
		runStatus(eng)
	case "test":
		if len(args) < 2 {
			log.Fatalf("Usage: relay test <provider> [message]")
		}
		message := "Say hello in one short sentence."
		if len(args) > 2 {
			message = strings.Join(args[2:], " ")
		}
		printResult(eng.TestProvider(ctx, args[1], message))
	case "stress":
		runStress(ctx, eng)
	case "":
		log.Fatalf("Usage: relay <list|status|test|stress|prompt...>")
	default:
		runChat(ctx, eng, strings.Join(args, " "))
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*stats.Pipeline, error) {
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		StatsCacheSize:  cfg.Database.StatsCacheSize,
		StatsCacheTTL:   cfg.Database.StatsCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	repo := storage.NewPerformanceRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var archiver stats.Archiver
	if cfg.Stats.S3Enabled {
		writer, err := stats.NewS3Writer(ctx, cfg.Stats.S3Bucket, cfg.Stats.S3Region, cfg.Stats.S3Prefix, cfg.Stats.NodeName)
		if err != nil {
			return nil, err
		}
		archiver = writer
	}

	queueCfg := stats.DefaultConfig("performance")
	queueCfg.BatchSize = cfg.Stats.BatchSize
	queueCfg.BatchTimeout = cfg.Stats.BatchTimeout
	queueCfg.MaxRetries = cfg.Stats.MaxRetries
	queueCfg.RetryBackoff = cfg.Stats.RetryBackoff
	queueCfg.UseRedis = cfg.Stats.UseRedis
	queueCfg.RedisAddr = cfg.Stats.RedisAddr
	queueCfg.RedisPassword = cfg.Stats.RedisPassword
	queueCfg.RedisDB = cfg.Stats.RedisDB

	return stats.NewPipeline(queueCfg, repo, archiver)
}

func runList(ctx context.Context, eng *engine.Engine) {
	entries := eng.ListModels(ctx)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Provider != entries[j].Provider {
			return entries[i].Provider < entries[j].Provider
		}
		return entries[i].Normalized < entries[j].Normalized
	})

	fmt.Printf("%-16s %-32s %s\n", "PROVIDER", "MODEL", "NORMALIZED")
	for _, entry := range entries {
		fmt.Printf("%-16s %-32s %s\n", entry.Provider, entry.RawID, entry.Normalized)
	}
	fmt.Printf("\n%d models across all providers\n", len(entries))
}

func runStatus(eng *engine.Engine) {
	status := eng.Status()
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-16s %-8s %-9s %-7s %-10s %s\n", "PROVIDER", "ENABLED", "ELIGIBLE", "SCORE", "REQUESTS", "QUARANTINED_UNTIL")
	for _, name := range names {
		st := status[name]
		score := "-"
		if st.Scored {
			score = fmt.Sprintf("%.1f", st.Score)
		}
		until := "-"
		if !st.QuarantinedUntil.IsZero() {
			until = st.QuarantinedUntil.Format(time.RFC3339)
		}
		fmt.Printf("%-16s %-8t %-9t %-7s %-10d %s\n", name, st.Enabled, st.Eligible, score, st.Requests, until)
	}
}

func runStress(ctx context.Context, eng *engine.Engine) {
	results := eng.StressTest(ctx, 3, "Say hello in one short sentence.")
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	passed := 0
	fmt.Printf("%-16s %-6s %-9s %-10s %s\n", "PROVIDER", "PASS", "SUCCESS", "AVG", "LAST_ERROR")
	for _, name := range names {
		sr := results[name]
		if sr.Passed {
			passed++
		}
		fmt.Printf("%-16s %-6t %-9s %-10s %s\n",
			name, sr.Passed,
			fmt.Sprintf("%d/%d", sr.Successes, sr.Total),
			sr.AvgLatency.Round(time.Millisecond), sr.LastError)
	}
	fmt.Printf("\n%d/%d providers passed\n", passed, len(results))
}

func runChat(ctx context.Context, eng *engine.Engine, prompt string) {
	res := eng.Execute(ctx, engine.Request{
		Messages:          []models.Message{{Role: "user", Content: prompt}},
		Model:             os.Getenv("RELAY_MODEL"),
		PreferredProvider: os.Getenv("RELAY_PROVIDER"),
		Autodecide:        true,
	})
	printResult(res)
}

func printResult(res models.RequestResult) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
	fmt.Println(string(out))
	if !res.Success {
		os.Exit(1)
	}
}

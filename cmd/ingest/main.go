// Command ingest runs the bulk or delta loader over one or more Cowrie
// JSON-lines log files, emitting telemetry status files as it goes.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datagen24/cowrieprocessor/internal/cache"
	"github.com/datagen24/cowrieprocessor/internal/config"
	"github.com/datagen24/cowrieprocessor/internal/enrichment"
	"github.com/datagen24/cowrieprocessor/internal/ipclass"
	"github.com/datagen24/cowrieprocessor/internal/loader"
	"github.com/datagen24/cowrieprocessor/internal/publish"
	"github.com/datagen24/cowrieprocessor/internal/storage"
	"github.com/datagen24/cowrieprocessor/internal/telemetry"
)

func main() {
	log.SetFlags(log.LstdFlags)

	mode := flag.String("mode", "delta", "ingestion mode: bulk or delta")
	ingestID := flag.String("ingest-id", "", "ingest ID to record on every row (default: generated)")
	flag.Parse()

	sources := flag.Args()
	if len(sources) == 0 {
		log.Fatal("ingest: at least one source file is required")
	}

	cfg := config.LoadFromEnv()

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("ingest: open database: %v", err)
	}
	defer db.Close()

	emitter, err := telemetry.NewEmitter(*mode, cfg.StatusDir)
	if err != nil {
		log.Fatalf("ingest: create status emitter: %v", err)
	}

	publisher, err := publish.NewSessionPublisherFromEnv(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Fatalf("ingest: build kafka publisher: %v", err)
	}
	if publisher != nil {
		defer publisher.Close()
	}

	loaderCfg := loader.Config{
		BatchSize:           cfg.BatchSize,
		QuarantineThreshold: cfg.QuarantineThreshold,
		BatchRiskThreshold:  cfg.BatchRiskThreshold,
		NeutralizeCommands:  cfg.NeutralizeCommands,
		IntelligentDefang:   cfg.IntelligentDefanging,
		PreserveOriginal:    cfg.PreserveOriginalInput,
		TelemetryInterval:   cfg.TelemetryInterval,
	}
	if *mode == "delta" {
		loaderCfg.BatchSize = cfg.DeltaBatchSize
	}

	telemetryFunc := func(m *loader.Metrics) {
		if err := emitter.RecordMetrics(m.IngestID, m); err != nil {
			log.Printf("ingest: record telemetry: %v", err)
		}
	}
	checkpointFunc := func(c loader.Checkpoint) {
		if err := emitter.RecordCheckpoint(c); err != nil {
			log.Printf("ingest: record checkpoint: %v", err)
		}
		if c.EventsQuarantined > 0 {
			if err := emitter.RecordDeadLetters(c.EventsQuarantined, "quarantined", c.Source); err != nil {
				log.Printf("ingest: record dead letters: %v", err)
			}
		}
	}

	var publishFunc loader.PublishFunc
	if publisher != nil {
		publishFunc = func(deltas []*storage.SessionDelta) {
			for _, err := range publisher.PublishDeltas(context.Background(), deltas, time.Now().UTC()) {
				log.Printf("ingest: publish session delta: %v", err)
			}
		}
	}

	enrichFunc, err := buildEnrichFunc(cfg, db)
	if err != nil {
		log.Fatalf("ingest: build enrichment pipeline: %v", err)
	}

	var metrics *loader.Metrics
	switch *mode {
	case "bulk":
		bulk := loader.NewBulkLoader(db, loaderCfg)
		bulk.SetPublish(publishFunc)
		bulk.SetEnrich(enrichFunc)
		metrics, err = bulk.LoadPaths(sources, *ingestID, telemetryFunc, checkpointFunc)
	case "delta":
		delta := loader.NewDeltaLoader(db, loaderCfg)
		delta.SetPublish(publishFunc)
		delta.SetEnrich(enrichFunc)
		metrics, err = delta.LoadPaths(sources, *ingestID, telemetryFunc, checkpointFunc)
	default:
		log.Fatalf("ingest: unknown mode %q (want bulk or delta)", *mode)
	}
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}

	log.Printf("ingest: done in %s, %d files, %d events read, %d inserted, %d quarantined, %d invalid",
		metrics.Duration, metrics.FilesProcessed, metrics.EventsRead, metrics.EventsInserted,
		metrics.EventsQuarantined, metrics.EventsInvalid)
}

// buildEnrichFunc assembles the IP classifier, the three-tier cache, and the
// threat-intel service from cfg, returning a loader.EnrichFunc that runs
// every flushed batch's source IPs through the full pipeline. The matchers
// refresh lazily on first use (Classifier.Classify calls EnsureFresh), so
// startup never blocks on an unreachable feed.
func buildEnrichFunc(cfg *config.Config, db *storage.DB) (loader.EnrichFunc, error) {
	providerClient := &http.Client{Timeout: time.Duration(cfg.ProviderTimeoutMS) * time.Millisecond}

	classifier := ipclass.NewClassifier(
		ipclass.NewTORMatcher(cfg.TorListURL, providerClient),
		ipclass.NewCloudMatcher([]ipclass.CloudProvider{
			{Name: "aws", SourceURL: cfg.CloudBaseURL + "/aws.txt"},
			{Name: "azure", SourceURL: cfg.CloudBaseURL + "/azure.txt"},
			{Name: "gcp", SourceURL: cfg.CloudBaseURL + "/gcp.txt"},
			{Name: "cloudflare", SourceURL: cfg.CloudBaseURL + "/cloudflare.txt"},
		}, providerClient),
		ipclass.NewDatacenterMatcher(cfg.DatacenterURL, providerClient),
		ipclass.NewResidentialMatcher(),
	)

	providers := []enrichment.Provider{
		enrichment.NewVirusTotal(cfg.VTAPIKey, providerClient),
		enrichment.NewDShield(providerClient),
		enrichment.NewURLHaus("", providerClient),
		enrichment.NewSPUR(cfg.SPURAPIKey, providerClient),
		enrichment.NewHIBP(providerClient),
	}
	rateLimits := map[string]int{
		"virustotal": cfg.VTRateLimit,
		"dshield":    cfg.DShieldRateLimit,
		"urlhaus":    cfg.URLHausRateLimit,
		"spur":       cfg.SPURRateLimit,
		"hibp":       cfg.HIBPRateLimit,
	}

	var l1 cache.L1
	if cfg.EnableRedis && cfg.RedisAddr != "" {
		l1 = cache.NewRedisL1(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
	} else {
		l1 = cache.NewMemoryL1()
	}
	l3, err := cache.NewL3(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	hybrid := cache.NewHybridCache(l1, storage.NewL2Cache(db), l3)

	service := enrichment.NewService(hybrid, providers, rateLimits)
	pipeline := enrichment.NewPipeline(classifier, service, db)

	return func(sessionIPs map[string]string) {
		pipeline.EnrichSessions(context.Background(), sessionIPs)
	}, nil
}

// package config provides a minimal environment-backed configuration loader
// used by every cmd/ entrypoint.
package config

import (
	"os"
	"strconv"
)

// Config holds the runtime config values shared by the loaders, the
// enrichment service, the IP classifier, and the status daemon.
type Config struct {
	DatabaseURL string // DATABASE_URL (sqlite file path, or postgres://... for the server backend)

	StatusDir string // STATUS_DIR (default ./status)
	CacheDir  string // CACHE_DIR (default ./cache, L3 filesystem tier root + matcher prefix lists)

	// Redis (L1 cache tier)
	RedisAddr     string // REDIS_ADDR
	RedisPassword string // REDIS_PASSWORD
	RedisDB       int    // REDIS_DB (default 0)
	EnableRedis   bool   // ENABLE_REDIS (default true)

	// Loader thresholds
	BatchSize             int  // LOADER_BATCH_SIZE (default 500)
	DeltaBatchSize        int  // DELTA_BATCH_SIZE (default 200)
	QuarantineThreshold   int  // QUARANTINE_THRESHOLD (default 80)
	BatchRiskThreshold    int  // BATCH_RISK_THRESHOLD (default 400)
	TelemetryInterval     int  // TELEMETRY_INTERVAL (default 5, in batches)
	NeutralizeCommands    bool // NEUTRALIZE_COMMANDS (default true)
	IntelligentDefanging  bool // INTELLIGENT_DEFANGING (default true, see open question in design notes)
	PreserveOriginalInput bool // PRESERVE_ORIGINAL_INPUT (default true)
	AllowInodeReset       bool // ALLOW_INODE_RESET (default true)
	MaxSeekAhead          int  // MAX_SEEK_AHEAD (default 10000)

	// Provider credentials
	VTAPIKey   string // VT_API_KEY
	SPURAPIKey string // SPUR_API_KEY
	HIBPAPIKey string // HIBP_API_KEY

	// Provider rate limits, requests per minute
	VTRateLimit       int // VT_RATE_LIMIT (default 4)
	DShieldRateLimit  int // DSHIELD_RATE_LIMIT (default 30)
	URLHausRateLimit  int // URLHAUS_RATE_LIMIT (default 30)
	SPURRateLimit     int // SPUR_RATE_LIMIT (default 60)
	HIBPRateLimit     int // HIBP_RATE_LIMIT (default 10)
	ProviderTimeoutMS int // PROVIDER_TIMEOUT_MS (default 30000)

	// IP classification data sources
	TorListURL       string // TOR_LIST_URL
	CloudBaseURL     string // CLOUD_BASE_URL
	DatacenterURL    string // DATACENTER_URL
	TorUpdateSeconds int    // TOR_UPDATE_SECONDS (default 3600)
	CloudUpdateSecs  int    // CLOUD_UPDATE_SECONDS (default 86400)
	DCUpdateSeconds  int    // DATACENTER_UPDATE_SECONDS (default 604800)

	// Optional domain wiring, mirrors the teacher's optional-backend pattern
	S3Bucket      string // DLQ_ARCHIVE_S3_BUCKET
	S3Prefix      string // DLQ_ARCHIVE_S3_PREFIX
	KafkaBrokers  string // KAFKA_BROKERS (comma separated)
	KafkaTopic    string // KAFKA_SESSION_TOPIC
	ListenAddr    string // LISTEN_ADDR (cmd/statusd, default :8090)
	StatusJWTHMAC string // STATUS_JWT_SECRET
}

// LoadFromEnv reads config values from environment variables and returns a Config pointer.
func LoadFromEnv() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StatusDir:   os.Getenv("STATUS_DIR"),
		CacheDir:    os.Getenv("CACHE_DIR"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		VTAPIKey:   os.Getenv("VT_API_KEY"),
		SPURAPIKey: os.Getenv("SPUR_API_KEY"),
		HIBPAPIKey: os.Getenv("HIBP_API_KEY"),

		TorListURL:    os.Getenv("TOR_LIST_URL"),
		CloudBaseURL:  os.Getenv("CLOUD_BASE_URL"),
		DatacenterURL: os.Getenv("DATACENTER_URL"),

		S3Bucket:      os.Getenv("DLQ_ARCHIVE_S3_BUCKET"),
		S3Prefix:      os.Getenv("DLQ_ARCHIVE_S3_PREFIX"),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:    os.Getenv("KAFKA_SESSION_TOPIC"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		StatusJWTHMAC: os.Getenv("STATUS_JWT_SECRET"),
	}

	if cfg.StatusDir == "" {
		cfg.StatusDir = "./status"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./cache"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.TorListURL == "" {
		cfg.TorListURL = "https://check.torproject.org/torbulkexitlist"
	}
	if cfg.CloudBaseURL == "" {
		cfg.CloudBaseURL = "https://raw.githubusercontent.com/rezmoss/cloud-provider-ip-addresses/main"
	}
	if cfg.DatacenterURL == "" {
		cfg.DatacenterURL = "https://raw.githubusercontent.com/jhassine/server-ip-addresses/main"
	}

	cfg.RedisDB = intEnv("REDIS_DB", 0)
	cfg.EnableRedis = boolEnv("ENABLE_REDIS", true)

	cfg.BatchSize = intEnv("LOADER_BATCH_SIZE", 500)
	cfg.DeltaBatchSize = intEnv("DELTA_BATCH_SIZE", 200)
	cfg.QuarantineThreshold = intEnv("QUARANTINE_THRESHOLD", 80)
	cfg.BatchRiskThreshold = intEnv("BATCH_RISK_THRESHOLD", 400)
	cfg.TelemetryInterval = intEnv("TELEMETRY_INTERVAL", 5)
	cfg.NeutralizeCommands = boolEnv("NEUTRALIZE_COMMANDS", true)
	cfg.IntelligentDefanging = boolEnv("INTELLIGENT_DEFANGING", true)
	cfg.PreserveOriginalInput = boolEnv("PRESERVE_ORIGINAL_INPUT", true)
	cfg.AllowInodeReset = boolEnv("ALLOW_INODE_RESET", true)
	cfg.MaxSeekAhead = intEnv("MAX_SEEK_AHEAD", 10000)

	cfg.VTRateLimit = intEnv("VT_RATE_LIMIT", 4)
	cfg.DShieldRateLimit = intEnv("DSHIELD_RATE_LIMIT", 30)
	cfg.URLHausRateLimit = intEnv("URLHAUS_RATE_LIMIT", 30)
	cfg.SPURRateLimit = intEnv("SPUR_RATE_LIMIT", 60)
	cfg.HIBPRateLimit = intEnv("HIBP_RATE_LIMIT", 10)
	cfg.ProviderTimeoutMS = intEnv("PROVIDER_TIMEOUT_MS", 30000)

	cfg.TorUpdateSeconds = intEnv("TOR_UPDATE_SECONDS", 3600)
	cfg.CloudUpdateSecs = intEnv("CLOUD_UPDATE_SECONDS", 86400)
	cfg.DCUpdateSeconds = intEnv("DATACENTER_UPDATE_SECONDS", 604800)

	return cfg
}

func intEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolEnv(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

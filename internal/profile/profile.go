package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Embedding provider configuration (OpenAI-compatible protocol).
	// All providers (openai, siliconflow, ollama) use the same config.
	EmbeddingProvider   string // Provider identifier: openai, siliconflow, ollama
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbeddingTimeout    time.Duration // Per-call timeout for the embedding provider
	EmbeddingRPS        float64       // Rate limit for embedding calls, 0 disables

	// Classifier thresholds.
	RouteHigh   float64 // Minimum top score for a direct route
	RouteMargin float64 // Minimum lead over the runner-up for a direct route
	RouteFloor  float64 // Minimum top score to clarify instead of escalating

	// Dialogue limits.
	MaxClarifyTurns int
	MaxSlotRetries  int
	SessionTimeout  time.Duration
	SweepInterval   time.Duration

	// Delivery configuration (resend-compatible HTTP endpoint).
	DeliveryEndpoint string
	DeliveryAPIKey   string
	DeliveryFrom     string
	DeliveryFromName string
	DeliveryTimeout  time.Duration
	DeliveryAttempts int
	DeliveryBackoff  time.Duration

	// Optional Postgres vector backend. Empty DSN keeps the in-memory backend.
	VectorDSN string

	// Optional sqlite session archive. Empty path disables archiving.
	ArchivePath string

	CorpusPath string
	Mode       string
	Addr       string
	Port       int
	Data       string
	Version    string
}

// Embedding provider default configurations.
// Used when the base URL or model is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsDeliveryEnabled reports whether a real delivery endpoint is configured.
// Without one the engine logs composed requests instead of dispatching them.
func (p *Profile) IsDeliveryEnabled() bool {
	return p.DeliveryAPIKey != "" && p.DeliveryFrom != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvOrDefaultDuration returns environment variable value as duration or default value.
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("DESKROUTER_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("DESKROUTER_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("DESKROUTER_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("DESKROUTER_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("DESKROUTER_EMBEDDING_DIMENSIONS", 1024)
	p.EmbeddingTimeout = getEnvOrDefaultDuration("DESKROUTER_EMBEDDING_TIMEOUT", 5*time.Second)
	p.EmbeddingRPS = getEnvOrDefaultFloat("DESKROUTER_EMBEDDING_RPS", 10)

	if defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]; ok {
		if p.EmbeddingBaseURL == "" {
			p.EmbeddingBaseURL = defaults.BaseURL
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = defaults.Model
		}
	}

	p.RouteHigh = getEnvOrDefaultFloat("DESKROUTER_ROUTE_HIGH", 0.75)
	p.RouteMargin = getEnvOrDefaultFloat("DESKROUTER_ROUTE_MARGIN", 0.08)
	p.RouteFloor = getEnvOrDefaultFloat("DESKROUTER_ROUTE_FLOOR", 0.45)

	p.MaxClarifyTurns = getEnvOrDefaultInt("DESKROUTER_MAX_CLARIFY_TURNS", 3)
	p.MaxSlotRetries = getEnvOrDefaultInt("DESKROUTER_MAX_SLOT_RETRIES", 2)
	p.SessionTimeout = getEnvOrDefaultDuration("DESKROUTER_SESSION_TIMEOUT", 30*time.Minute)
	p.SweepInterval = getEnvOrDefaultDuration("DESKROUTER_SWEEP_INTERVAL", time.Minute)

	p.DeliveryEndpoint = getEnvOrDefault("DESKROUTER_DELIVERY_ENDPOINT", "https://api.resend.com/emails")
	p.DeliveryAPIKey = getEnvOrDefault("DESKROUTER_DELIVERY_API_KEY", "")
	p.DeliveryFrom = getEnvOrDefault("DESKROUTER_DELIVERY_FROM", "")
	p.DeliveryFromName = getEnvOrDefault("DESKROUTER_DELIVERY_FROM_NAME", "Support Desk")
	p.DeliveryTimeout = getEnvOrDefaultDuration("DESKROUTER_DELIVERY_TIMEOUT", 10*time.Second)
	p.DeliveryAttempts = getEnvOrDefaultInt("DESKROUTER_DELIVERY_ATTEMPTS", 3)
	p.DeliveryBackoff = getEnvOrDefaultDuration("DESKROUTER_DELIVERY_BACKOFF", 500*time.Millisecond)

	p.VectorDSN = getEnvOrDefault("DESKROUTER_VECTOR_DSN", "")
	p.ArchivePath = getEnvOrDefault("DESKROUTER_ARCHIVE_PATH", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes and checks the profile.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.CorpusPath == "" {
		return errors.New("corpus path is required")
	}
	if _, err := os.Stat(p.CorpusPath); err != nil {
		return errors.Wrapf(err, "unable to access corpus file %s", p.CorpusPath)
	}

	if p.Data != "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			return err
		}
		p.Data = dataDir
		if p.ArchivePath == "" {
			p.ArchivePath = filepath.Join(dataDir, "deskrouter_"+p.Mode+".db")
		}
	}

	if p.RouteHigh <= 0 || p.RouteHigh > 1 {
		return errors.Errorf("route high threshold %f out of range (0,1]", p.RouteHigh)
	}
	if p.RouteFloor < 0 || p.RouteFloor > p.RouteHigh {
		return errors.Errorf("route floor %f must be in [0, high]", p.RouteFloor)
	}
	if p.RouteMargin < 0 || p.RouteMargin > 1 {
		return errors.Errorf("route margin %f out of range [0,1]", p.RouteMargin)
	}
	if p.MaxClarifyTurns <= 0 {
		p.MaxClarifyTurns = 3
	}
	if p.MaxSlotRetries <= 0 {
		p.MaxSlotRetries = 2
	}
	if p.SessionTimeout <= 0 {
		p.SessionTimeout = 30 * time.Minute
	}
	if p.EmbeddingTimeout <= 0 {
		p.EmbeddingTimeout = 5 * time.Second
	}
	if p.DeliveryAttempts <= 0 {
		p.DeliveryAttempts = 3
	}

	return nil
}

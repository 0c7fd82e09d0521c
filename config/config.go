package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime parameters, loaded from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// DataDir is the root of per-user state: filter documents and match
	// databases live under <DataDir>/users/user_<id>/.
	DataDir   string `envconfig:"DATA_DIR" default:"./data"`
	IndexPath string `envconfig:"INDEX_PATH" default:"./data/papers.bleve"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 6 * * *"`
	// RunOnce performs a single sweep and exits instead of starting the
	// HTTP server and cron scheduler. Meant for external cron setups.
	RunOnce bool `envconfig:"RUN_ONCE" default:"false"`

	ArxivBaseURL     string `envconfig:"ARXIV_BASE_URL" default:"http://export.arxiv.org/api/query"`
	ArxivCategories  string `envconfig:"ARXIV_CATEGORIES" default:"cs.AI,cs.LG,cs.CL,stat.ML"`
	IngestWindowDays int    `envconfig:"INGEST_WINDOW_DAYS" default:"4"`
	IngestBatchSize  int    `envconfig:"INGEST_BATCH_SIZE" default:"500"`
	RetentionDays    int    `envconfig:"RETENTION_DAYS" default:"730"`

	SMTPHost     string `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`

	// LLMBaseURL points at an Ollama-compatible chat endpoint. Leaving it
	// empty disables summary enrichment.
	LLMBaseURL string `envconfig:"LLM_BASE_URL"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"gemma3:1b"`

	VerificationCodeTTLMinutes int `envconfig:"VERIFICATION_CODE_TTL_MINUTES" default:"10"`
}

// DSN returns the data source name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// VerificationCodeTTL returns the lifetime of a pending verification code.
func (c *Config) VerificationCodeTTL() time.Duration {
	return time.Duration(c.VerificationCodeTTLMinutes) * time.Minute
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}

package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Extraction ExtractionConfig
	LLM        LLMConfig
	Vertex     VertexConfig
	DocAI      DocAIConfig
	OCR        OCRConfig
	Database   DatabaseConfig
	Vendors    VendorConfig
	Log        LogConfig
}

// ExtractionConfig holds the deadline budget and per-tier allocation policy
type ExtractionConfig struct {
	Budget            time.Duration // caller-side timeout per document
	SafetyMargin      time.Duration // subtracted from Budget before orchestration
	Floor             time.Duration // at or below this remaining budget only the text tier runs
	GenerativeCeiling time.Duration // hard cap for the generative tier
	TextReserve       time.Duration // budget kept back for the text tier while external tiers run
	ChunkPages        int
	ChunkConcurrency  int
	Workers           int
}

// LLMConfig holds generative-parser configuration
type LLMConfig struct {
	Provider    string // "openai" | "vertex" | "" (tier disabled)
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	Lenient     bool
}

// VertexConfig holds Vertex AI Gemini configuration
type VertexConfig struct {
	Project  string
	Location string
	Model    string
}

// DocAIConfig holds Document AI configuration for the structured tiers
type DocAIConfig struct {
	Project         string
	Location        string
	ProcessorID     string
	Endpoint        string
	CredentialsFile string
}

// Enabled reports whether the structured tiers can be wired.
func (c DocAIConfig) Enabled() bool {
	return c.Project != "" && c.ProcessorID != ""
}

// OCRConfig holds transcript-extraction configuration
type OCRConfig struct {
	Pdftotext   string
	Pdftoppm    string
	Tesseract   string
	TessdataDir string
	DPI         int
	MaxPages    int
}

// DatabaseConfig holds outcome-store configuration
type DatabaseConfig struct {
	Driver           string // "sqlite" | "pgx"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// VendorConfig holds vendor-profile configuration
type VendorConfig struct {
	ProfilesPath string // empty -> embedded defaults
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			Budget:            getEnvAsDuration("EXTRACT_BUDGET", 90*time.Second),
			SafetyMargin:      getEnvAsDuration("EXTRACT_SAFETY_MARGIN", 5*time.Second),
			Floor:             getEnvAsDuration("EXTRACT_FLOOR", 5*time.Second),
			GenerativeCeiling: getEnvAsDuration("EXTRACT_GENERATIVE_CEILING", 30*time.Second),
			TextReserve:       getEnvAsDuration("EXTRACT_TEXT_RESERVE", 2*time.Second),
			ChunkPages:        getEnvAsInt("EXTRACT_CHUNK_PAGES", 4),
			ChunkConcurrency:  getEnvAsInt("EXTRACT_CHUNK_CONCURRENCY", 3),
			Workers:           getEnvAsInt("EXTRACT_WORKERS", 4),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
			Lenient:     getEnvAsBool("LLM_LENIENT", true),
		},
		Vertex: VertexConfig{
			Project:  getEnv("VERTEX_PROJECT", getEnv("GOOGLE_CLOUD_PROJECT", "")),
			Location: getEnv("VERTEX_LOCATION", "us-central1"),
			Model:    getEnv("VERTEX_MODEL", "gemini-1.5-pro"),
		},
		DocAI: DocAIConfig{
			Project:         getEnv("DOCAI_PROJECT", getEnv("GOOGLE_CLOUD_PROJECT", "")),
			Location:        getEnv("DOCAI_LOCATION", "us"),
			ProcessorID:     getEnv("DOCAI_PROCESSOR_ID", ""),
			Endpoint:        getEnv("DOCAI_ENDPOINT", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		OCR: OCRConfig{
			Pdftotext:   getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			DPI:         getEnvAsInt("OCR_DPI", 300),
			MaxPages:    getEnvAsInt("OCR_MAX_PAGES", 0),
		},
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "sqlite"),
			DSN:              getEnv("DB_URL", "file:outcomes.db?_pragma=busy_timeout(5000)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Vendors: VendorConfig{
			ProfilesPath: getEnv("VENDOR_PROFILES", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("EXTRACT_BUDGET", c.Extraction.Budget, PositiveDuration).
		Field("EXTRACT_GENERATIVE_CEILING", c.Extraction.GenerativeCeiling, PositiveDuration).
		Field("LLM_PROVIDER", c.LLM.Provider, OneOf("openai", "vertex", "none", "")).
		Field("DB_DRIVER", c.Database.Driver, OneOf("sqlite", "pgx"))
	if c.Extraction.SafetyMargin >= c.Extraction.Budget {
		return NewAppError(CodeConfig, "EXTRACT_SAFETY_MARGIN must be smaller than EXTRACT_BUDGET", ErrInvalidInput)
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		return NewAppError(CodeConfig, "OPENAI_API_KEY is required when LLM_PROVIDER=openai", ErrInvalidInput)
	}
	if c.LLM.Provider == "vertex" && c.Vertex.Project == "" {
		return NewAppError(CodeConfig, "VERTEX_PROJECT is required when LLM_PROVIDER=vertex", ErrInvalidInput)
	}
	return v.AsAppError(CodeConfig)
}

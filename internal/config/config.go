package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the evaluator server configuration.
type Config struct {
	Env             string     `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer      HTTPServer `yaml:"http_server"`
	Services        Services   `yaml:"services"`
	AllowedOrigins  []string   `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	EventBufferSize int        `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE" env-default:"1000"`
	MaxUploadBytes  int64      `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES" env-default:"33554432"`
}

// HTTPServer configures the evaluator listener. WriteTimeout must cover a full answer
// generation because answer requests block until it resolves.
type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_SERVER_ADDRESS" env-default:"0.0.0.0:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"1m"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10m"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Services locates the three collaborators and bounds each call.
type Services struct {
	ExtractDocumentURL  string        `yaml:"extract_document_url" env:"EXTRACT_DOCUMENT_URL" env-required:"true"`
	ExtractQuestionsURL string        `yaml:"extract_questions_url" env:"EXTRACT_QUESTIONS_URL" env-required:"true"`
	GenerateAnswerURL   string        `yaml:"generate_answer_url" env:"GENERATE_ANSWER_URL" env-required:"true"`
	ExtractTimeout      time.Duration `yaml:"extract_timeout" env:"EXTRACT_TIMEOUT" env-default:"5m"`
	SegmentTimeout      time.Duration `yaml:"segment_timeout" env:"SEGMENT_TIMEOUT" env-default:"2m"`
	GenerateTimeout     time.Duration `yaml:"generate_timeout" env:"GENERATE_TIMEOUT" env-default:"2m"`
}

// FunctionConfig is shared by the extract-document, extract-questions, generate-answer
// and upload-extractor functions.
type FunctionConfig struct {
	ProjectID             string `env:"PROJECT_ID" env-required:"true"`
	VertexAIRegion        string `env:"VERTEX_AI_REGION" env-default:"us-central1"`
	GeminiModel           string `env:"GEMINI_MODEL" env-default:"gemini-1.5-flash"`
	ExtractedTextBucket   string `env:"EXTRACTED_TEXT_BUCKET"`
	FirestoreCollection   string `env:"FIRESTORE_COLLECTION" env-default:"documents"`
	TranscribeConcurrency int    `env:"TRANSCRIBE_CONCURRENCY" env-default:"4"`
	InboxBucket           string `env:"INBOX_BUCKET"`
}

// Load reads an optional .env file, then the yaml file named by CONFIG_PATH if set,
// then the environment.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read config from environment: %w", err)
	}

	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	return &cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return cfg
}

// LoadFunctionConfig reads the function configuration from the environment.
func LoadFunctionConfig() (*FunctionConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg FunctionConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.TranscribeConcurrency <= 0 {
		cfg.TranscribeConcurrency = 1
	}
	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

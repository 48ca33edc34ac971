package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUDIO_TRANSCRIBE_"

// Defaults
const (
	DefaultBaseURL           = "https://api.openai.com/v1"
	DefaultModel             = "gpt-4o-mini-transcribe"
	DefaultDiarizationModel  = "gpt-4o-transcribe-diarize"
	DefaultSummaryModel      = "gpt-4.1-mini"
	DefaultSegmentLength     = 300 // seconds
	DefaultOverlap           = 3   // seconds
	DefaultConcurrency       = 8
	DefaultMaxRetries        = 5
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultBitrate           = "64k"
	DefaultCallTimeout       = 5 * time.Minute
	DefaultSummaryPrompt     = "Create a concise summary of the following transcript. Focus on the key points, topics and findings."
	DefaultOutputDir         = "./transcriptions"
	DefaultSummaryDir        = "./summaries"
	DefaultUploadDir         = "uploads"
	DefaultRedisJobTTL       = 24 * time.Hour
	DefaultRabbitMQQueueName = "transcription_jobs"
)

// Config is the application configuration.
type Config struct {
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Diarization DiarizationConfig `yaml:"diarization"`
	Summary     SummaryConfig     `yaml:"summary"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
}

// OpenAIConfig points at an OpenAI compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// TranscriberConfig holds the per-file pipeline settings.
type TranscriberConfig struct {
	SegmentLength   int           `yaml:"segment_length"` // seconds
	Overlap         int           `yaml:"overlap"`        // seconds
	Concurrency     int           `yaml:"concurrency"`    // parallel chunk calls per file
	WorkerPoolSize  int           `yaml:"worker_pool_size"`
	MaxRetries      int           `yaml:"max_retries"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	Temperature     float64       `yaml:"temperature"`
	Language        string        `yaml:"language"`
	DetectLanguage  *bool         `yaml:"detect_language"`
	ResponseFormat  string        `yaml:"response_format"`
	Prompt          string        `yaml:"prompt"`
	OutputDir       string        `yaml:"output_dir"`
	SegmentsDir     string        `yaml:"segments_dir"`
	KeepSegments    bool          `yaml:"keep_segments"`
	SkipExisting    bool          `yaml:"skip_existing"`
	SaveChunkOutput *bool         `yaml:"save_chunk_output"`
	SampleRate      int           `yaml:"sample_rate"`
	Channels        int           `yaml:"channels"`
	Bitrate         string        `yaml:"bitrate"`
	Verbose         bool          `yaml:"verbose"`
}

// DiarizationConfig switches on speaker attribution.
type DiarizationConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Model             string   `yaml:"model"`
	NumSpeakers       int      `yaml:"num_speakers"`
	KnownSpeakerNames []string `yaml:"known_speaker_names"`
	KnownSpeakerRefs  []string `yaml:"known_speaker_references"`
}

// SummaryConfig configures the optional summary step.
type SummaryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	Prompt  string `yaml:"prompt"`
	Dir     string `yaml:"dir"`
}

// QueueConfig selects the job queue.
type QueueConfig struct {
	Type       string         `yaml:"type"` // memory | rabbitmq
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig RabbitMQ connection.
type RabbitMQConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
	Prefetch  int    `yaml:"prefetch"`
}

// StorageConfig selects the job store.
type StorageConfig struct {
	Type     string         `yaml:"type"` // memory | redis | postgres | hybrid
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig Redis connection.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PostgresConfig PostgreSQL connection.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig HTTP server settings.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	UploadDir     string `yaml:"upload_dir"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the YAML file (optional when missing), a .env file and
// AUDIO_TRANSCRIBE_* overrides, then validates the result.
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// 1. YAML file
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// 2. .env, never overriding variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// 3. environment overrides
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	// 4. defaults + validation
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return &models.ConfigError{Field: EnvPrefix + key, Reason: "not an integer: " + v}
			}
			*dst = n
		}
		return nil
	}
	flag := func(key string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return &models.ConfigError{Field: EnvPrefix + key, Reason: "not a boolean: " + v}
			}
			*dst = b
		}
		return nil
	}

	str("API_KEY", &c.OpenAI.APIKey)
	str("BASE_URL", &c.OpenAI.BaseURL)
	str("MODEL", &c.OpenAI.Model)
	str("LANGUAGE", &c.Transcriber.Language)
	str("RESPONSE_FORMAT", &c.Transcriber.ResponseFormat)
	str("OUTPUT_DIR", &c.Transcriber.OutputDir)
	str("SEGMENTS_DIR", &c.Transcriber.SegmentsDir)
	str("SUMMARY_DIR", &c.Summary.Dir)
	str("SUMMARY_MODEL", &c.Summary.Model)

	for key, dst := range map[string]*int{
		"SEGMENT_LENGTH": &c.Transcriber.SegmentLength,
		"OVERLAP":        &c.Transcriber.Overlap,
		"CONCURRENCY":    &c.Transcriber.Concurrency,
		"MAX_RETRIES":    &c.Transcriber.MaxRetries,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(EnvPrefix + "TEMPERATURE"); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &models.ConfigError{Field: EnvPrefix + "TEMPERATURE", Reason: "not a number: " + v}
		}
		c.Transcriber.Temperature = t
	}
	if err := flag("SKIP_EXISTING", &c.Transcriber.SkipExisting); err != nil {
		return err
	}
	if err := flag("KEEP_SEGMENTS", &c.Transcriber.KeepSegments); err != nil {
		return err
	}
	return flag("DIARIZE", &c.Diarization.Enabled)
}

func (c *Config) applyDefaults() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = DefaultBaseURL
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = DefaultModel
	}

	t := &c.Transcriber
	if t.SegmentLength == 0 && t.Overlap == 0 {
		t.Overlap = DefaultOverlap
	}
	if t.SegmentLength == 0 {
		t.SegmentLength = DefaultSegmentLength
	}
	if t.Concurrency == 0 {
		t.Concurrency = DefaultConcurrency
	}
	if t.WorkerPoolSize <= 0 {
		t.WorkerPoolSize = 2
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.CallTimeout <= 0 {
		t.CallTimeout = DefaultCallTimeout
	}
	if t.ResponseFormat == "" {
		t.ResponseFormat = string(models.FormatText)
	}
	if t.DetectLanguage == nil {
		on := true
		t.DetectLanguage = &on
	}
	if t.SaveChunkOutput == nil {
		on := true
		t.SaveChunkOutput = &on
	}
	if t.OutputDir == "" {
		t.OutputDir = DefaultOutputDir
	}
	if t.SegmentsDir == "" {
		t.SegmentsDir = t.OutputDir
	}
	if t.SampleRate <= 0 {
		t.SampleRate = DefaultSampleRate
	}
	if t.Channels <= 0 {
		t.Channels = DefaultChannels
	}
	if t.Bitrate == "" {
		t.Bitrate = DefaultBitrate
	}

	if c.Diarization.Model == "" {
		c.Diarization.Model = DefaultDiarizationModel
	}
	if c.Summary.Model == "" {
		c.Summary.Model = DefaultSummaryModel
	}
	if c.Summary.Prompt == "" {
		c.Summary.Prompt = DefaultSummaryPrompt
	}
	if c.Summary.Dir == "" {
		c.Summary.Dir = DefaultSummaryDir
	}

	if c.Queue.Type == "" {
		c.Queue.Type = "memory"
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 100
	}
	if c.Queue.RabbitMQ.QueueName == "" {
		c.Queue.RabbitMQ.QueueName = DefaultRabbitMQQueueName
	}
	if c.Queue.RabbitMQ.Prefetch <= 0 {
		c.Queue.RabbitMQ.Prefetch = t.WorkerPoolSize
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Redis.TTL <= 0 {
		c.Storage.Redis.TTL = DefaultRedisJobTTL
	}

	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 500 << 20
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = DefaultUploadDir
	}
}

// Validate fills defaults and rejects values the pipeline cannot run with.
// The API key is not checked here: dry runs work without one.
func (c *Config) Validate() error {
	c.applyDefaults()

	t := c.Transcriber
	if err := ValidatePipeline(t.SegmentLength, t.Overlap, t.Concurrency, t.Temperature); err != nil {
		return err
	}
	if _, err := models.ParseResponseFormat(t.ResponseFormat); err != nil {
		return err
	}
	if c.Diarization.NumSpeakers < 0 {
		return &models.ConfigError{Field: "diarization.num_speakers", Reason: "must not be negative"}
	}

	switch strings.ToLower(c.Queue.Type) {
	case "memory", "rabbitmq":
	default:
		return &models.ConfigError{Field: "queue.type", Reason: "unsupported queue type " + c.Queue.Type}
	}
	switch strings.ToLower(c.Storage.Type) {
	case "memory", "redis", "postgres", "hybrid":
	default:
		return &models.ConfigError{Field: "storage.type", Reason: "unsupported storage type " + c.Storage.Type}
	}
	return nil
}

// ValidatePipeline checks the per-file run parameters.
func ValidatePipeline(segmentLength, overlap, concurrency int, temperature float64) error {
	if segmentLength <= 0 {
		return &models.ConfigError{Field: "segment_length", Reason: fmt.Sprintf("must be positive, got %d", segmentLength)}
	}
	if overlap < 0 {
		return &models.ConfigError{Field: "overlap", Reason: fmt.Sprintf("must not be negative, got %d", overlap)}
	}
	if overlap >= segmentLength {
		return &models.ConfigError{Field: "overlap", Reason: fmt.Sprintf("overlap (%ds) must be less than segment length (%ds)", overlap, segmentLength)}
	}
	if concurrency <= 0 {
		return &models.ConfigError{Field: "concurrency", Reason: fmt.Sprintf("must be positive, got %d", concurrency)}
	}
	if temperature < 0 || temperature > 1 {
		return &models.ConfigError{Field: "temperature", Reason: fmt.Sprintf("must be between 0 and 1, got %g", temperature)}
	}
	return nil
}

// RequireAPIKey fails when no usable key is configured.
func (c *Config) RequireAPIKey() error {
	if c.OpenAI.APIKey == "" || c.OpenAI.APIKey == "your-openai-api-key-here" {
		return &models.ConfigError{Field: "openai.api_key", Reason: "set openai.api_key or " + EnvPrefix + "API_KEY"}
	}
	return nil
}

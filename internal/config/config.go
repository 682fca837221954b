package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	Audio       AudioConfig       `toml:"audio"`
	ASR         ASRConfig         `toml:"asr"`
	LLM         LLMConfig         `toml:"llm"`
	Segment     SegmentConfig     `toml:"segmentation"`
	Translation TranslationConfig `toml:"translation"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, console
}

// StorageConfig represents the storage configuration
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	DatabasePath string `toml:"database_path"`
}

// AudioConfig represents silence detection and chunk planning parameters.
// The silence/pause thresholds are empirical; they are deliberately exposed
// as configuration rather than baked into the detector.
type AudioConfig struct {
	AnalysisWindowMs      int     `toml:"analysis_window_ms"`
	MinSilenceMs          int     `toml:"min_silence_ms"`
	SilenceThresholdRatio float64 `toml:"silence_threshold_ratio"`
	ChunkSeconds          int     `toml:"chunk_seconds"`
	SearchWindowSeconds   int     `toml:"search_window_seconds"`
	ChunkOverlapMs        int     `toml:"chunk_overlap_ms"`
}

// ASRConfig represents the speech recognition service configuration
type ASRConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// LLMConfig represents the chat completion service configuration
type LLMConfig struct {
	APIKeys        string  `toml:"api_keys"` // delimiter-separated list
	KeyDelimiter   string  `toml:"key_delimiter"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	MaxRetries     int     `toml:"max_retries"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RPM            int     `toml:"rpm"` // 0 = unlimited
}

// SegmentConfig represents sentence segmentation parameters
type SegmentConfig struct {
	BatchSize           int `toml:"batch_size"`
	PauseThresholdMs    int `toml:"pause_threshold_ms"`
	ThreadCount         int `toml:"thread_count"`
	SkipTinyWords       int `toml:"skip_tiny_words"`
	SkipPunctuatedWords int `toml:"skip_punctuated_words"`
	SkipFlankedMinWords int `toml:"skip_flanked_min_words"`
	SkipFlankedMaxWords int `toml:"skip_flanked_max_words"`
}

// TranslationConfig represents translation parameters
type TranslationConfig struct {
	TargetLanguage        string     `toml:"target_language"`
	BatchSize             int        `toml:"batch_size"`
	ThreadCount           int        `toml:"thread_count"`
	ContextBefore         int        `toml:"context_before"`
	ContextAfter          int        `toml:"context_after"`
	MaxBatchRetries       int        `toml:"max_batch_retries"`
	InterFileDelaySeconds int        `toml:"inter_file_delay_seconds"`
	Terminology           []TermPair `toml:"terminology"`
}

// TermPair represents one terminology entry injected into translation prompts
type TermPair struct {
	Original   string `toml:"original"`
	Translated string `toml:"translated"`
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8572,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			DataDir:      "data",
			DatabasePath: "data/sublate.db",
		},
		Audio: AudioConfig{
			AnalysisWindowMs:      10,
			MinSilenceMs:          400,
			SilenceThresholdRatio: 0.15,
			ChunkSeconds:          60,
			SearchWindowSeconds:   20,
			ChunkOverlapMs:        0,
		},
		ASR: ASRConfig{
			BaseURL:        "http://127.0.0.1:8090",
			Model:          "whisper-base",
			Language:       "auto",
			TimeoutSeconds: 300,
			MaxRetries:     3,
		},
		LLM: LLMConfig{
			KeyDelimiter:   ",",
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Temperature:    0.3,
			MaxRetries:     3,
			TimeoutSeconds: 120,
			RPM:            0,
		},
		Segment: SegmentConfig{
			BatchSize:           300,
			PauseThresholdMs:    1000,
			ThreadCount:         4,
			SkipTinyWords:       2,
			SkipPunctuatedWords: 20,
			SkipFlankedMinWords: 3,
			SkipFlankedMaxWords: 10,
		},
		Translation: TranslationConfig{
			TargetLanguage:        "zh-CN",
			BatchSize:             20,
			ThreadCount:           4,
			ContextBefore:         3,
			ContextAfter:          2,
			MaxBatchRetries:       2,
			InterFileDelaySeconds: 5,
		},
	}
}

// Load reads the configuration from a TOML file, applying defaults for any
// missing values. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Audio.AnalysisWindowMs <= 0 {
		return fmt.Errorf("audio.analysis_window_ms must be positive, got %d", c.Audio.AnalysisWindowMs)
	}
	if c.Audio.MinSilenceMs <= 0 {
		return fmt.Errorf("audio.min_silence_ms must be positive, got %d", c.Audio.MinSilenceMs)
	}
	if c.Audio.SilenceThresholdRatio <= 0 || c.Audio.SilenceThresholdRatio >= 1 {
		return fmt.Errorf("audio.silence_threshold_ratio must be in (0, 1), got %g", c.Audio.SilenceThresholdRatio)
	}
	if c.Audio.ChunkSeconds <= 0 {
		return fmt.Errorf("audio.chunk_seconds must be positive, got %d", c.Audio.ChunkSeconds)
	}
	if c.Audio.SearchWindowSeconds < 0 || c.Audio.SearchWindowSeconds >= c.Audio.ChunkSeconds {
		return fmt.Errorf("audio.search_window_seconds must be in [0, chunk_seconds), got %d", c.Audio.SearchWindowSeconds)
	}
	if c.Audio.ChunkOverlapMs < 0 {
		return fmt.Errorf("audio.chunk_overlap_ms must not be negative, got %d", c.Audio.ChunkOverlapMs)
	}
	if c.Segment.BatchSize <= 0 {
		return fmt.Errorf("segmentation.batch_size must be positive, got %d", c.Segment.BatchSize)
	}
	if c.Segment.ThreadCount <= 0 {
		return fmt.Errorf("segmentation.thread_count must be positive, got %d", c.Segment.ThreadCount)
	}
	if c.Translation.BatchSize <= 0 {
		return fmt.Errorf("translation.batch_size must be positive, got %d", c.Translation.BatchSize)
	}
	if c.Translation.ThreadCount <= 0 {
		return fmt.Errorf("translation.thread_count must be positive, got %d", c.Translation.ThreadCount)
	}
	if c.LLM.RPM < 0 {
		return fmt.Errorf("llm.rpm must not be negative, got %d", c.LLM.RPM)
	}
	if _, err := language.Parse(c.Translation.TargetLanguage); err != nil {
		return fmt.Errorf("translation.target_language %q is not a valid BCP 47 tag: %w", c.Translation.TargetLanguage, err)
	}
	return nil
}

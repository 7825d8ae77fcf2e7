package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server settings
	ServerPort   string        `json:"server_port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Debug        bool          `json:"debug"`

	// Application paths
	LogDir     string `json:"log_dir"`
	TempDir    string `json:"temp_dir"`
	ResultsDir string `json:"results_dir"`
	StaticDir  string `json:"static_dir"`

	// Middleware settings
	Middleware MiddlewareConfig `json:"middleware"`

	// CORS Configuration
	CORS CORSConfig `json:"cors"`

	// Rate Limiting
	RateLimit RateLimitConfig `json:"rate_limit"`

	// Database settings
	Database DatabaseConfig `json:"database"`

	// WaveSpeed API settings
	WaveSpeed WaveSpeedConfig `json:"wavespeed"`

	// Temporary file host settings
	FileHost FileHostConfig `json:"file_host"`

	// Upload limits
	Upload UploadConfig `json:"upload"`

	// Application version
	Version string `json:"version"`

	// Request and shutdown timeouts
	RequestTimeout  time.Duration `json:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type MiddlewareConfig struct {
	EnableRecover   bool `json:"enable_recover"`
	EnableRequestID bool `json:"enable_request_id"`
	EnableLogger    bool `json:"enable_logger"`
	EnableTimeout   bool `json:"enable_timeout"`
	EnableCORS      bool `json:"enable_cors"`
	EnableRateLimit bool `json:"enable_rate_limit"`
	EnableCompress  bool `json:"enable_compress"`
	EnableETag      bool `json:"enable_etag"`
	EnableDebugMode bool `json:"enable_debug_mode"`
}

type DatabaseConfig struct {
	// Path is the SQLite DSN. The default keeps job state in memory so a
	// restart starts a clean run.
	Path               string        `json:"path"`
	MaxConnections     int           `json:"max_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
}

type WaveSpeedConfig struct {
	APIKey       string        `json:"-"`
	BaseURL      string        `json:"base_url"`
	Tier         string        `json:"tier"`
	PollInterval time.Duration `json:"poll_interval"`
	PollTimeout  time.Duration `json:"poll_timeout"`
	HTTPTimeout  time.Duration `json:"http_timeout"`
}

type FileHostConfig struct {
	// Provider selects the temporary file host: "wavespeed" or "s3".
	Provider  string `json:"provider"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	// URLTTL bounds how long presigned upload URLs stay fetchable.
	URLTTL time.Duration `json:"url_ttl"`
}

type UploadConfig struct {
	MaxFileSize  int64    `json:"max_file_size"`
	MaxBatchSize int      `json:"max_batch_size"`
	Extensions   []string `json:"extensions"`
}

// formOverhead leaves room for multipart boundaries and form fields on top
// of the file payloads.
const formOverhead = 1 << 20

// BodyLimit is the request body size bounding a full batch. The value is
// computed in int64 and clamped so it stays a valid int on 32-bit builds.
func (u UploadConfig) BodyLimit() int {
	limit := u.MaxFileSize*int64(u.MaxBatchSize) + formOverhead
	if limit <= 0 || limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	return int(limit)
}

type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute"`
	BurstSize         int  `json:"burst_size"`
}

// Default configurations
func defaultDevConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableTimeout:   false, // Disabled for easier debugging
		EnableCORS:      true,
		EnableRateLimit: false, // Disabled for testing
		EnableCompress:  false, // Not needed for development
		EnableETag:      false, // Not needed for development
		EnableDebugMode: true,
	}
}

func defaultProdConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableTimeout:   true,
		EnableCORS:      true,
		EnableRateLimit: true,
		EnableCompress:  true,
		EnableETag:      true,
		EnableDebugMode: false,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Server settings
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		Debug:        getEnvAsBool("DEBUG", false),

		// Application paths
		LogDir:     getEnv("LOG_DIR", "/var/log/demark"),
		TempDir:    getEnv("TEMP_DIR", "/tmp/demark"),
		ResultsDir: getEnv("RESULTS_DIR", "/var/lib/demark/results"),
		StaticDir:  getEnv("STATIC_DIR", "./static"),

		// Application version
		Version: getEnv("VERSION", "1.0.0"),

		// Request and shutdown timeouts
		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Minute),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		// CORS Configuration
		CORS: CORSConfig{
			Enabled:        getEnvAsBool("CORS_ENABLED", true),
			AllowedOrigins: getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsStringSlice(
				"CORS_ALLOWED_METHODS",
				[]string{"GET", "POST", "DELETE", "OPTIONS"},
			),
			AllowedHeaders:   getEnvAsStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type"}),
			ExposedHeaders:   getEnvAsStringSlice("CORS_EXPOSED_HEADERS", []string{}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 86400),
		},

		// Rate Limiting
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
			BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 10),
		},

		// Database
		Database: DatabaseConfig{
			Path:               getEnv("DB_PATH", "file:demark?mode=memory&cache=shared"),
			MaxConnections:     getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},

		// WaveSpeed API
		WaveSpeed: WaveSpeedConfig{
			APIKey:       getEnv("WAVESPEED_API_KEY", ""),
			BaseURL:      getEnv("WAVESPEED_API_BASE", "https://api.wavespeed.ai/api/v3"),
			Tier:         getEnv("WAVESPEED_TIER", "bronze"),
			PollInterval: getEnvAsDuration("WAVESPEED_POLL_INTERVAL", 5*time.Second),
			PollTimeout:  getEnvAsDuration("WAVESPEED_POLL_TIMEOUT", 10*time.Minute),
			HTTPTimeout:  getEnvAsDuration("WAVESPEED_HTTP_TIMEOUT", 60*time.Second),
		},

		// Temporary file host
		FileHost: FileHostConfig{
			Provider:  getEnv("FILE_HOST", "wavespeed"),
			AccessKey: getEnv("FILE_HOST_ACCESS_KEY", ""),
			SecretKey: getEnv("FILE_HOST_SECRET_KEY", ""),
			Region:    getEnv("FILE_HOST_REGION", "us-east-1"),
			Endpoint:  getEnv("FILE_HOST_ENDPOINT", ""),
			Bucket:    getEnv("FILE_HOST_BUCKET", ""),
			URLTTL:    getEnvAsDuration("FILE_HOST_URL_TTL", time.Hour),
		},

		// Upload limits
		Upload: UploadConfig{
			MaxFileSize:  getEnvAsInt64("UPLOAD_MAX_FILE_SIZE", 500*1024*1024), // 500MB
			MaxBatchSize: getEnvAsInt("UPLOAD_MAX_BATCH_SIZE", 25),
			Extensions: getEnvAsStringSlice(
				"UPLOAD_EXTENSIONS",
				[]string{".mp4", ".mov", ".m4v", ".avi", ".mkv", ".webm"},
			),
		},

		// Middleware
		Middleware: defaultDevConfig(),
	}

	if os.Getenv("ENV") == "production" {
		cfg.Middleware = defaultProdConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validatePaths(c); err != nil {
		return err
	}

	if err := validateTimeouts(c); err != nil {
		return err
	}

	if err := validateServices(c); err != nil {
		return err
	}

	return nil
}

func validatePaths(c *Config) error {
	paths := []struct {
		path string
		name string
	}{
		{c.LogDir, "log directory"},
		{c.TempDir, "temp directory"},
		{c.ResultsDir, "results directory"},
	}

	if dir := filepath.Dir(strings.TrimPrefix(c.Database.Path, "file:")); !isMemoryDSN(c.Database.Path) && dir != "." {
		paths = append(paths, struct {
			path string
			name string
		}{dir, "database directory"})
	}

	for _, p := range paths {
		if err := os.MkdirAll(p.path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
	}

	return nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func validateTimeouts(c *Config) error {
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.WaveSpeed.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.WaveSpeed.PollTimeout <= c.WaveSpeed.PollInterval {
		return fmt.Errorf("poll timeout must exceed the poll interval")
	}
	return nil
}

func validateServices(c *Config) error {
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if c.Upload.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}
	switch c.FileHost.Provider {
	case "wavespeed":
	case "s3":
		if c.FileHost.Bucket == "" {
			return fmt.Errorf("s3 file host requires a bucket")
		}
		if c.FileHost.AccessKey == "" || c.FileHost.SecretKey == "" {
			return fmt.Errorf("s3 file host requires credentials")
		}
	default:
		return fmt.Errorf("unknown file host provider: %s", c.FileHost.Provider)
	}
	return nil
}

// Helper functions for reading environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			return strings.Split(value, ",")
		}
	}
	return defaultValue
}

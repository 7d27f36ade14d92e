package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         int           `yaml:"port" validate:"gt=0,lt=65536"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		// MaxUploadMB caps one multipart bundle upload.
		MaxUploadMB int64 `yaml:"maxUploadMB" validate:"gt=0"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=json text"`
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver" validate:"oneof=mysql postgres"`
		Host     string `yaml:"host" validate:"required"`
		Port     int    `yaml:"port" validate:"gt=0,lt=65536"`
		User     string `yaml:"user" validate:"required"`
		Password string `yaml:"password"`
		Name     string `yaml:"name" validate:"required"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Storage struct {
		Driver string `yaml:"driver" validate:"oneof=minio memory"`
		// PublicURL and SigningKey are used by the memory driver, which
		// serves its own signed URLs under /blobs.
		PublicURL  string `yaml:"publicURL" validate:"omitempty,url"`
		SigningKey string `yaml:"signingKey" validate:"required_if=Driver memory"`
	} `yaml:"storage"`

	Minio struct {
		Endpoint      string `yaml:"endpoint"`
		AccessKey     string `yaml:"accessKey"`
		SecretKey     string `yaml:"secretKey"`
		Region        string `yaml:"region"`
		UseSSL        bool   `yaml:"useSSL"`
		BundleBucket  string `yaml:"bundleBucket" validate:"required"`
		ResultsBucket string `yaml:"resultsBucket" validate:"required"`
	} `yaml:"minio"`

	Results struct {
		SignedURLExpiry   time.Duration `yaml:"signedURLExpiry" validate:"gt=0"`
		RedirectByDefault *bool         `yaml:"redirectByDefault"`
	} `yaml:"results"`

	Ingest struct {
		Workers   int    `yaml:"workers" validate:"gt=0"`
		QueueSize int    `yaml:"queueSize" validate:"gte=0"`
		TempDir   string `yaml:"tempDir"`
	} `yaml:"ingest"`

	Broker struct {
		URL           string `yaml:"url" validate:"required"`
		JobQueue      string `yaml:"jobQueue" validate:"required"`
		CancelQueue   string `yaml:"cancelQueue" validate:"required"`
		CompleteQueue string `yaml:"completeQueue" validate:"required"`
		Prefetch      int    `yaml:"prefetch"`
	} `yaml:"broker"`

	Auth struct {
		// APIKeys maps access group -> API key.
		APIKeys map[string]string `yaml:"apiKeys" validate:"required,min=1,dive,required"`
	} `yaml:"auth"`

	RateLimit struct {
		RPS   float64 `yaml:"rps" validate:"gt=0"`
		Burst int     `yaml:"burst" validate:"gt=0"`
	} `yaml:"rateLimit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`
}

// Load baca file config.yaml; ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 512
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "minio"
	}
	if c.Storage.PublicURL == "" && c.Storage.Driver == "memory" {
		c.Storage.PublicURL = fmt.Sprintf("http://localhost:%d/blobs", c.Server.Port)
	}
	if c.Minio.BundleBucket == "" {
		c.Minio.BundleBucket = "bundles"
	}
	if c.Minio.ResultsBucket == "" {
		c.Minio.ResultsBucket = "results"
	}
	if c.Results.SignedURLExpiry == 0 {
		c.Results.SignedURLExpiry = 15 * time.Second
	}
	if c.Results.RedirectByDefault == nil {
		yes := true
		c.Results.RedirectByDefault = &yes
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.QueueSize == 0 {
		c.Ingest.QueueSize = 64
	}
	if c.Broker.JobQueue == "" {
		c.Broker.JobQueue = "regional.jobs"
	}
	if c.Broker.CancelQueue == "" {
		c.Broker.CancelQueue = "regional.cancel"
	}
	if c.Broker.CompleteQueue == "" {
		c.Broker.CompleteQueue = "regional.complete"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// Validate checks the struct tags. Minio endpoint is only required for the
// minio storage driver.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Driver == "minio" && c.Minio.Endpoint == "" {
		return fmt.Errorf("invalid config: minio.endpoint is required for the minio storage driver")
	}
	return nil
}

// Redirect reports whether result endpoints redirect when the client does
// not say.
func (c *Config) Redirect() bool {
	return c.Results.RedirectByDefault == nil || *c.Results.RedirectByDefault
}

package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string   `yaml:"addr"`
	Cache           Cache    `yaml:"cache"`
	Fetch           Fetch    `yaml:"fetch"`
	Upload          Upload   `yaml:"upload"`
	SourceRules     []string `yaml:"source-rules"`
	MaxSourcePixels int      `yaml:"max-source-pixels"`
	CORS            *CORS    `yaml:"cors"`
}

type Cache struct {
	Disabled        bool          `yaml:"disabled"`
	Limit           string        `yaml:"limit"`
	TTL             time.Duration `yaml:"ttl"`
	JanitorInterval time.Duration `yaml:"janitor-interval"`
}

type Fetch struct {
	Timeout time.Duration `yaml:"timeout"`
	MaxSize string        `yaml:"max-size"`
	S3      *S3           `yaml:"s3"`
}

type S3 struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`
}

type Upload struct {
	MaxSize string `yaml:"max-size"`
}

type CORS struct {
	AllowOrigins []string `yaml:"allow-origins"`
}

func Default() *Config {
	return &Config{
		Addr: ":8080",
		Cache: Cache{
			Limit:           "150MiB",
			TTL:             time.Hour,
			JanitorInterval: time.Minute,
		},
		Fetch: Fetch{
			Timeout: 10 * time.Second,
			MaxSize: "32MiB",
		},
		Upload: Upload{
			MaxSize: "32MiB",
		},
		MaxSourcePixels: 50_000_000,
	}
}

// Parse decodes the YAML configuration on top of the defaults, so that
// only the values that differ from them need to be specified.
func Parse(r io.Reader) (*Config, error) {
	config := Default()

	if err := yaml.NewDecoder(r).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (config *Config) Validate() error {
	for name, value := range map[string]string{
		"cache.limit":     config.Cache.Limit,
		"fetch.max-size":  config.Fetch.MaxSize,
		"upload.max-size": config.Upload.MaxSize,
	} {
		if _, err := humanize.ParseBytes(value); err != nil {
			return fmt.Errorf("failed to parse %s value %q: %w", name, value, err)
		}
	}

	// These end up as int64 limits on readers
	for name, value := range map[string]string{
		"fetch.max-size":  config.Fetch.MaxSize,
		"upload.max-size": config.Upload.MaxSize,
	} {
		if parsed, _ := humanize.ParseBytes(value); parsed > math.MaxInt64 {
			return fmt.Errorf("%s value %q is too large, at most %s is supported",
				name, value, humanize.IBytes(math.MaxInt64))
		}
	}

	if config.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative, got %s", config.Cache.TTL)
	}

	if config.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout should be positive, got %s", config.Fetch.Timeout)
	}

	if config.MaxSourcePixels < 0 {
		return fmt.Errorf("max-source-pixels cannot be negative, got %d", config.MaxSourcePixels)
	}

	return nil
}

func (cache Cache) LimitBytes() uint64 {
	limitBytes, _ := humanize.ParseBytes(cache.Limit)

	return limitBytes
}

func (fetch Fetch) MaxSizeBytes() int64 {
	maxSizeBytes, _ := humanize.ParseBytes(fetch.MaxSize)

	return int64(maxSizeBytes)
}

func (upload Upload) MaxSizeBytes() int64 {
	maxSizeBytes, _ := humanize.ParseBytes(upload.MaxSize)

	return int64(maxSizeBytes)
}

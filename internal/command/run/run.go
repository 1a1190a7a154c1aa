package run

import (
	"bytes"
	"fmt"
	"os"

	cachepkg "github.com/cirruslabs/resizer/internal/cache"
	"github.com/cirruslabs/resizer/internal/cache/noop"
	configpkg "github.com/cirruslabs/resizer/internal/config"
	"github.com/cirruslabs/resizer/internal/imaging"
	"github.com/cirruslabs/resizer/internal/policy"
	serverpkg "github.com/cirruslabs/resizer/internal/server"
	"github.com/cirruslabs/resizer/internal/source"
	"github.com/cirruslabs/resizer/internal/source/s3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string
var addr string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the image resizing server",
		RunE:  run,
	}

	cmd.Flags().StringVarP(&configPath, "file", "f", "",
		"configuration file path (e.g. /etc/resizer.yml), defaults are used when not specified")
	cmd.Flags().StringVar(&addr, "addr", "",
		"address to listen on, overrides the one from the configuration file")

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	config := configpkg.Default()

	// Parse the configuration file
	if configPath != "" {
		configBytes, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read configuration file at path %s: %w", configPath, err)
		}

		config, err = configpkg.Parse(bytes.NewReader(configBytes))
		if err != nil {
			return fmt.Errorf("failed to parse configuration file at path %s: %w", configPath, err)
		}
	}

	if addr != "" {
		config.Addr = addr
	}

	opts := []serverpkg.Option{
		serverpkg.WithLogger(zap.S()),
		serverpkg.WithMaxUploadBytes(config.Upload.MaxSizeBytes()),
	}

	// Cache
	if config.Cache.Disabled {
		zap.S().Infof("caching is disabled")

		opts = append(opts, serverpkg.WithCache(noop.New()))
	} else {
		limitBytes := config.Cache.LimitBytes()

		zap.S().Infof("using in-memory cache limited to %s with a TTL of %v",
			humanize.IBytes(limitBytes), config.Cache.TTL)

		memory := cachepkg.NewMemory(limitBytes, config.Cache.TTL, cachepkg.WithLogger(zap.S()))

		opts = append(opts, serverpkg.WithCache(memory),
			serverpkg.WithJanitorInterval(config.Cache.JanitorInterval))
	}

	// Sources
	sourceOpts := []source.Option{
		source.WithTimeout(config.Fetch.Timeout),
		source.WithMaxBytes(uint64(config.Fetch.MaxSizeBytes())),
		source.WithLogger(zap.S()),
	}

	if s3Config := config.Fetch.S3; s3Config != nil {
		objects, err := s3.New(cmd.Context(), &s3.Config{
			Endpoint:        s3Config.Endpoint,
			Region:          s3Config.Region,
			AccessKeyID:     s3Config.AccessKeyID,
			AccessKeySecret: s3Config.AccessKeySecret,
		})
		if err != nil {
			return err
		}

		sourceOpts = append(sourceOpts, source.WithObjectGetter(objects))
	}

	opts = append(opts, serverpkg.WithFetcher(source.New(sourceOpts...)))

	sourcePolicy, err := policy.New(config.SourceRules...)
	if err != nil {
		return err
	}

	opts = append(opts, serverpkg.WithPolicy(sourcePolicy))

	// Image processing
	opts = append(opts, serverpkg.WithProcessor(imaging.New(
		imaging.WithMaxSourcePixels(config.MaxSourcePixels),
	)))

	if config.CORS != nil {
		opts = append(opts, serverpkg.WithCORS(config.CORS.AllowOrigins))
	}

	server, err := serverpkg.New(config.Addr, opts...)
	if err != nil {
		return err
	}

	return server.Run(cmd.Context())
}

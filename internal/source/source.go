package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	errs "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 32 * humanize.MiByte
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// ObjectGetter retrieves objects referenced by s3://bucket/key URLs.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket string, key string) (io.ReadCloser, error)
}

type Source struct {
	httpClient *http.Client
	objects    ObjectGetter
	timeout    time.Duration
	maxBytes   uint64
	logger     *zap.SugaredLogger
}

type Option func(source *Source)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(source *Source) {
		source.httpClient = httpClient
	}
}

func WithObjectGetter(objects ObjectGetter) Option {
	return func(source *Source) {
		source.objects = objects
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(source *Source) {
		source.timeout = timeout
	}
}

func WithMaxBytes(maxBytes uint64) Option {
	return func(source *Source) {
		source.maxBytes = maxBytes
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(source *Source) {
		source.logger = logger
	}
}

func New(opts ...Option) *Source {
	source := &Source{
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		maxBytes:   DefaultMaxBytes,
	}

	for _, opt := range opts {
		opt(source)
	}

	if source.logger == nil {
		source.logger = zap.NewNop().Sugar()
	}

	return source
}

// Fetch retrieves the contents referenced by an http://, https:// or s3:// URL,
// giving up after the configured timeout.
func (source *Source) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	sourceURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.Wrapf(err, errs.CodeInvalidInput, "invalid source URL %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, source.timeout)
	defer cancel()

	start := time.Now()

	var body io.ReadCloser

	switch strings.ToLower(sourceURL.Scheme) {
	case "http", "https":
		body, err = source.openHTTP(ctx, sourceURL)
	case "s3":
		body, err = source.openS3(ctx, sourceURL)
	default:
		return nil, errs.Newf(errs.CodeInvalidInput, "unsupported source URL scheme %q", sourceURL.Scheme)
	}
	if err != nil {
		return nil, source.convertErr(ctx, rawURL, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, int64(source.maxBytes)+1))
	if err != nil {
		return nil, source.convertErr(ctx, rawURL, err)
	}

	if uint64(len(data)) > source.maxBytes {
		return nil, errs.Newf(errs.CodeInvalidInput, "source %q is larger than %s", rawURL,
			humanize.IBytes(source.maxBytes))
	}

	source.logger.Debugf("fetched %s from %s in %v", humanize.IBytes(uint64(len(data))), rawURL,
		time.Since(start))

	return data, nil
}

func (source *Source) openHTTP(ctx context.Context, sourceURL *url.URL) (io.ReadCloser, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL.String(), nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidInput, "failed to create a source request")
	}

	response, err := source.httpClient.Do(request)
	if err != nil {
		return nil, err
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		_ = response.Body.Close()

		code := errs.CodeNetwork
		if response.StatusCode == http.StatusNotFound {
			code = errs.CodeNotFound
		}

		return nil, errs.WithContext(errs.Newf(code, "unexpected HTTP %d", response.StatusCode),
			"status_code", response.StatusCode)
	}

	return response.Body, nil
}

func (source *Source) openS3(ctx context.Context, sourceURL *url.URL) (io.ReadCloser, error) {
	if source.objects == nil {
		return nil, errs.New(errs.CodeInvalidInput, "S3 sources are not configured")
	}

	bucket := sourceURL.Host
	key := strings.TrimPrefix(sourceURL.Path, "/")

	if bucket == "" || key == "" {
		return nil, errs.New(errs.CodeInvalidInput, "S3 source URL should look like s3://bucket/key")
	}

	return source.objects.GetObject(ctx, bucket, key)
}

func (source *Source) convertErr(ctx context.Context, rawURL string, err error) error {
	// Already classified
	if errs.GetCode(err) != errs.CodeUnknown {
		return errs.Wrapf(err, errs.GetCode(err), "failed to fetch source %q", rawURL)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrapf(err, errs.CodeTimeout, "timed out fetching source %q after %v",
			rawURL, source.timeout)
	}

	return errs.Wrapf(err, errs.CodeNetwork, "failed to fetch source %q", rawURL)
}

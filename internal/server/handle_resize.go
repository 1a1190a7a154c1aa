package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	cachepkg "github.com/cirruslabs/resizer/internal/cache"
	"github.com/cirruslabs/resizer/internal/imaging"
	"github.com/cirruslabs/resizer/internal/server/fail"
	"github.com/go-chi/render"
	errs "github.com/jmgilman/go/errors"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

const (
	headerETag            = "ETag"
	headerIfNoneMatch     = "If-None-Match"
	headerCacheControl    = "Cache-Control"
	headerXCache          = "X-Cache"
	headerXOriginalWidth  = "X-Original-Width"
	headerXOriginalHeight = "X-Original-Height"
)

type resizeParams struct {
	URL     string `json:"url"`
	Width   int64  `json:"width"`
	Height  int64  `json:"height"`
	Quality int    `json:"quality"`
}

func (server *Server) handleResizeGet(c echo.Context) error {
	params, err := parseParams(c, resizeParams{})
	if err != nil {
		return fail.FailErr(c, err)
	}

	if params.URL == "" {
		return fail.Fail(c, http.StatusBadRequest, "the \"url\" parameter is required")
	}

	return server.resizeRemote(c, params)
}

// handleResizePost resizes an image uploaded as the first file part of a
// multipart form or as a raw request body. JSON bodies describe remote
// images just like the query parameters do, and the latter take precedence.
func (server *Server) handleResizePost(c echo.Context) error {
	request := c.Request()
	request.Body = http.MaxBytesReader(c.Response(), request.Body, server.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(request.Header.Get(echo.HeaderContentType))

	var defaults resizeParams

	if mediaType == echo.MIMEApplicationJSON {
		if err := render.DecodeJSON(request.Body, &defaults); err != nil {
			return fail.FailErr(c, uploadErr(err, "failed to decode JSON request"))
		}
	}

	params, err := parseParams(c, defaults)
	if err != nil {
		return fail.FailErr(c, err)
	}

	if params.URL != "" {
		return server.resizeRemote(c, params)
	}

	if mediaType == echo.MIMEApplicationJSON {
		return fail.Fail(c, http.StatusBadRequest, "JSON request should specify the \"url\"")
	}

	var raw []byte

	if mediaType == echo.MIMEMultipartForm {
		raw, err = readFirstFilePart(request)
	} else {
		raw, err = io.ReadAll(request.Body)
		if err != nil {
			err = uploadErr(err, "failed to read the uploaded image")
		}
	}
	if err != nil {
		return fail.FailErr(c, err)
	}

	if len(raw) == 0 {
		return fail.Fail(c, http.StatusBadRequest, "no image was uploaded")
	}

	key := params.key(cachepkg.SourceFromBytes(raw))

	entry, outcome, err := server.coalescer.GetOrCompute(request.Context(), key.String(),
		func(ctx context.Context) (cachepkg.Value, error) {
			return server.process(ctx, raw, key)
		})
	if err != nil {
		return fail.FailErr(c, err)
	}

	return server.respond(c, entry, outcome)
}

func (server *Server) handleResizeDelete(c echo.Context) error {
	params, err := parseParams(c, resizeParams{})
	if err != nil {
		return fail.FailErr(c, err)
	}

	if params.URL == "" {
		return fail.Fail(c, http.StatusBadRequest, "the \"url\" parameter is required")
	}

	if _, err := parseSourceURL(params.URL); err != nil {
		return fail.FailErr(c, err)
	}

	key := params.key(cachepkg.SourceFromURL(params.URL))

	if err := server.cache.Delete(key.String()); err != nil {
		if errors.Is(err, cachepkg.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}

		return fail.FailErr(c, err)
	}

	return c.NoContent(http.StatusOK)
}

func (server *Server) resizeRemote(c echo.Context, params resizeParams) error {
	// Reject what can't be fetched before it gets a chance to match a cache entry
	sourceURL, err := parseSourceURL(params.URL)
	if err != nil {
		return fail.FailErr(c, err)
	}

	if err := server.policy.Check(sourceURL); err != nil {
		return fail.FailErr(c, err)
	}

	rawURL := strings.TrimSpace(params.URL)
	key := params.key(cachepkg.SourceFromURL(rawURL))

	entry, outcome, err := server.coalescer.GetOrCompute(c.Request().Context(), key.String(),
		func(ctx context.Context) (cachepkg.Value, error) {
			raw, err := server.fetcher.Fetch(ctx, rawURL)
			if err != nil {
				return cachepkg.Value{}, err
			}

			return server.process(ctx, raw, key)
		})
	if err != nil {
		return fail.FailErr(c, err)
	}

	return server.respond(c, entry, outcome)
}

func (server *Server) process(ctx context.Context, raw []byte, key cachepkg.Key) (cachepkg.Value, error) {
	result, err := server.processor.Process(ctx, raw, imaging.Params{
		Width:   key.Width,
		Height:  key.Height,
		Quality: key.Quality,
	})
	if err != nil {
		return cachepkg.Value{}, err
	}

	server.logger.Debugf("resized %dx%d image from %s to %dx%d",
		result.OriginalWidth, result.OriginalHeight, key.Source, key.Width, key.Height)

	return cachepkg.Value{
		Payload:        result.Data,
		ContentType:    result.ContentType,
		OriginalWidth:  result.OriginalWidth,
		OriginalHeight: result.OriginalHeight,
	}, nil
}

func (server *Server) respond(c echo.Context, entry *cachepkg.Entry, outcome cachepkg.Outcome) error {
	header := c.Response().Header()

	header.Set(headerCacheControl, server.cacheControl)
	header.Set(headerETag, entry.ETag)
	header.Set(headerXCache, strings.ToUpper(string(outcome)))
	header.Set(headerXOriginalWidth, strconv.Itoa(entry.OriginalWidth))
	header.Set(headerXOriginalHeight, strconv.Itoa(entry.OriginalHeight))

	if etagMatches(c.Request().Header.Get(headerIfNoneMatch), entry.ETag) {
		return c.NoContent(http.StatusNotModified)
	}

	return c.Blob(http.StatusOK, entry.ContentType, entry.Payload)
}

func parseSourceURL(rawURL string) (*url.URL, error) {
	sourceURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, errs.Wrapf(err, errs.CodeInvalidInput, "invalid source URL %q", rawURL)
	}

	switch strings.ToLower(sourceURL.Scheme) {
	case "http", "https", "s3":
		return sourceURL, nil
	default:
		return nil, errs.Newf(errs.CodeInvalidInput, "unsupported source URL scheme %q", sourceURL.Scheme)
	}
}

func (params resizeParams) key(source string) cachepkg.Key {
	return cachepkg.Key{
		Source:  source,
		Width:   uint32(params.Width),
		Height:  uint32(params.Height),
		Quality: params.Quality,
	}.Normalize()
}

// parseParams overlays the query parameters on top of the defaults
// and validates the result.
func parseParams(c echo.Context, defaults resizeParams) (resizeParams, error) {
	params := defaults

	if value := c.QueryParam("url"); value != "" {
		params.URL = value
	}

	for name, target := range map[string]*int64{"width": &params.Width, "height": &params.Height} {
		value := c.QueryParam(name)
		if value == "" {
			continue
		}

		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return resizeParams{}, errs.Newf(errs.CodeInvalidInput, "%s should be an integer, got %q",
				name, value)
		}

		*target = parsed
	}

	quality := c.QueryParam("quality")
	if quality != "" {
		parsed, err := strconv.Atoi(quality)
		if err != nil {
			return resizeParams{}, errs.Newf(errs.CodeInvalidInput, "quality should be an integer, got %q",
				quality)
		}

		params.Quality = parsed
	}

	for name, value := range map[string]int64{"width": params.Width, "height": params.Height} {
		if value < 0 || value > imaging.MaxDimension {
			return resizeParams{}, errs.Newf(errs.CodeInvalidInput, "%s should be between 0 and %d, got %d",
				name, imaging.MaxDimension, value)
		}
	}

	// Zero quality in a JSON body means "not specified", in a query it's invalid
	if (quality != "" || params.Quality != 0) && (params.Quality < 1 || params.Quality > 100) {
		return resizeParams{}, errs.Newf(errs.CodeInvalidInput, "quality should be between 1 and 100, got %d",
			params.Quality)
	}

	return params, nil
}

func readFirstFilePart(request *http.Request) ([]byte, error) {
	multipartReader, err := request.MultipartReader()
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidInput, "failed to read multipart request")
	}

	for {
		part, err := multipartReader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errs.New(errs.CodeInvalidInput, "multipart request contains no files")
			}

			return nil, uploadErr(err, "failed to read multipart request")
		}

		if part.FileName() == "" {
			_ = part.Close()

			continue
		}

		raw, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, uploadErr(err, "failed to read the uploaded image")
		}

		return raw, nil
	}
}

func uploadErr(err error, message string) error {
	var maxBytesErr *http.MaxBytesError

	if errors.As(err, &maxBytesErr) {
		return errs.WithContext(errs.Wrapf(err, errs.CodeInvalidInput, "upload is larger than %d bytes",
			maxBytesErr.Limit), "limit", maxBytesErr.Limit)
	}

	return errs.Wrap(err, errs.CodeInvalidInput, message)
}

// etagMatches implements the weak comparison used for If-None-Match.
func etagMatches(ifNoneMatch string, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}

	return lo.ContainsBy(strings.Split(ifNoneMatch, ","), func(candidate string) bool {
		candidate = strings.TrimSpace(candidate)

		return candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag
	})
}

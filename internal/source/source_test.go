package source_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cirruslabs/resizer/internal/source"
	errs "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objects map[string][]byte
}

func (fake *fakeObjects) GetObject(_ context.Context, bucket string, key string) (io.ReadCloser, error) {
	data, ok := fake.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "S3 object not found")
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestFetchHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/cat.png":
			_, _ = writer.Write([]byte("meow"))
		case "/broken.png":
			writer.WriteHeader(http.StatusInternalServerError)
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	source := source.New()

	data, err := source.Fetch(context.Background(), server.URL+"/cat.png")
	require.NoError(t, err)
	require.Equal(t, []byte("meow"), data)

	_, err = source.Fetch(context.Background(), server.URL+"/dog.png")
	require.Error(t, err)
	require.Equal(t, errs.CodeNotFound, errs.GetCode(err))

	_, err = source.Fetch(context.Background(), server.URL+"/broken.png")
	require.Error(t, err)
	require.Equal(t, errs.CodeNetwork, errs.GetCode(err))
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-release:
		case <-request.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	source := source.New(source.WithTimeout(50 * time.Millisecond))

	_, err := source.Fetch(context.Background(), server.URL+"/slow.png")
	require.Error(t, err)
	require.Equal(t, errs.CodeTimeout, errs.GetCode(err))
}

func TestFetchTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write(bytes.Repeat([]byte{'x'}, 1024))
	}))
	defer server.Close()

	_, err := source.New(source.WithMaxBytes(1023)).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidInput, errs.GetCode(err))

	data, err := source.New(source.WithMaxBytes(1024)).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, data, 1024)
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	unreachableURL := server.URL
	server.Close()

	_, err := source.New().Fetch(context.Background(), unreachableURL+"/cat.png")
	require.Error(t, err)
	require.Equal(t, errs.CodeNetwork, errs.GetCode(err))
}

func TestFetchInvalidURL(t *testing.T) {
	source := source.New()

	for _, rawURL := range []string{"ftp://example.com/cat.png", "cat.png", "://"} {
		_, err := source.Fetch(context.Background(), rawURL)
		require.Error(t, err, rawURL)
		require.Equal(t, errs.CodeInvalidInput, errs.GetCode(err), rawURL)
	}
}

func TestFetchS3(t *testing.T) {
	// Not configured
	_, err := source.New().Fetch(context.Background(), "s3://images/cat.png")
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidInput, errs.GetCode(err))

	source := source.New(source.WithObjectGetter(&fakeObjects{
		objects: map[string][]byte{
			"images/cats/cat.png": []byte("meow"),
		},
	}))

	data, err := source.Fetch(context.Background(), "s3://images/cats/cat.png")
	require.NoError(t, err)
	require.Equal(t, []byte("meow"), data)

	_, err = source.Fetch(context.Background(), "s3://images/cats/dog.png")
	require.Error(t, err)
	require.Equal(t, errs.CodeNotFound, errs.GetCode(err))

	_, err = source.Fetch(context.Background(), "s3://images")
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidInput, errs.GetCode(err))
}

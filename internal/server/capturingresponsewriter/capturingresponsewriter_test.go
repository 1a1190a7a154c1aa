package capturingresponsewriter_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cirruslabs/resizer/internal/server/capturingresponsewriter"
	"github.com/stretchr/testify/require"
)

func TestCapturingResponseWriter(t *testing.T) {
	recorder := httptest.NewRecorder()
	capturingResponseWriter := capturingresponsewriter.Wrap(recorder)

	require.Equal(t, 0, capturingResponseWriter.StatusCode())

	capturingResponseWriter.WriteHeader(http.StatusNotModified)
	require.Equal(t, http.StatusNotModified, capturingResponseWriter.StatusCode())

	// Superfluous calls are ignored, just like net/http does
	capturingResponseWriter.WriteHeader(http.StatusTeapot)
	require.Equal(t, http.StatusNotModified, capturingResponseWriter.StatusCode())
	require.Equal(t, http.StatusNotModified, recorder.Code)
}

func TestCapturingResponseWriterImplicitOK(t *testing.T) {
	capturingResponseWriter := capturingresponsewriter.Wrap(httptest.NewRecorder())

	_, err := capturingResponseWriter.Write([]byte("Hello, World!"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, capturingResponseWriter.StatusCode())
}

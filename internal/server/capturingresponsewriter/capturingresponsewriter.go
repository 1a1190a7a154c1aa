package capturingresponsewriter

import (
	"net/http"
)

// CapturingResponseWriter remembers the status code sent to the client
// so that it can be reported once the request is served.
type CapturingResponseWriter struct {
	statusCode int

	http.ResponseWriter
}

func Wrap(writer http.ResponseWriter) *CapturingResponseWriter {
	return &CapturingResponseWriter{
		ResponseWriter: writer,
	}
}

func (writer *CapturingResponseWriter) StatusCode() int {
	return writer.statusCode
}

// Unwrap enables interoperation with *http.ResponseController.
func (writer *CapturingResponseWriter) Unwrap() http.ResponseWriter {
	return writer.ResponseWriter
}

func (writer *CapturingResponseWriter) Header() http.Header {
	return writer.ResponseWriter.Header()
}

func (writer *CapturingResponseWriter) Write(bytes []byte) (int, error) {
	// Writing without calling WriteHeader() first implies 200 OK
	if writer.statusCode == 0 {
		writer.statusCode = http.StatusOK
	}

	return writer.ResponseWriter.Write(bytes)
}

func (writer *CapturingResponseWriter) WriteHeader(statusCode int) {
	// Only the first call has an effect on the response
	if writer.statusCode == 0 {
		writer.statusCode = statusCode
	}

	writer.ResponseWriter.WriteHeader(statusCode)
}

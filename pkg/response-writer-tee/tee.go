// Package tee provides an http.ResponseWriter wrapper that records the
// response in HTTP/1.1 wire format while optionally passing it through to
// the client. The recorded bytes are what a cache stores, so hop-by-hop
// header fields are stripped from the recording but left intact on the
// pass-through side.
package tee

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ResponseSaver is a wrapper around http.ResponseWriter that saves the
// response to a buffer. It optionally writes the response to the
// underlying http.ResponseWriter.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
	statusFilter int
	// CreatedAt is the creation time of the saver, i.e. the time the
	// recorded response was requested.
	CreatedAt time.Time
}

// NewResponseSaver returns a new ResponseSaver. If w is not nil, the
// response is written (tee'd) to it in addition to the buffer. If a status
// filter is given, a response with that status code is recorded but not
// written to w.
func NewResponseSaver(w http.ResponseWriter, statusFilter ...int) *ResponseSaver {
	rs := &ResponseSaver{
		CreatedAt: time.Now(),
		rw:        w,
		b:         &bytes.Buffer{},
		header:    http.Header{},
	}
	if len(statusFilter) == 1 {
		rs.statusFilter = statusFilter[0]
	}
	return rs
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	// a response with the filtered status is recorded but not forwarded
	if statusCode == t.statusFilter {
		t.rw = nil
	}
	t.wroteHeaders = true
	t.status = statusCode
	// the recording is an HTTP/1.1 message regardless of the protocol
	// version the response arrived with
	fmt.Fprintf(t.b, "HTTP/1.1 %d %s\r\n", statusCode, http.StatusText(statusCode))
	storableHeader(t.header).Write(t.b)
	t.b.WriteString("\r\n")
	if t.rw != nil {
		copyHeader(t.rw.Header(), t.header)
		t.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if t.rw != nil {
		t.rw.Write(b)
	}
	return t.b.Write(b)
}

// Flush implements http.Flusher so that streamed responses reach the
// client before the recording completes.
func (t *ResponseSaver) Flush() {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if f, ok := t.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// Response returns the recorded response as a byte slice.
func (t *ResponseSaver) Response() []byte {
	return t.b.Bytes()
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// storableHeader returns the headers that survive storage: hop-by-hop
// fields and fields nominated by the Connection header are dropped.
func storableHeader(header http.Header) http.Header {
	storable := header.Clone()
	for _, connection := range header.Values("Connection") {
		for _, name := range strings.Split(connection, ",") {
			storable.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range []string{
		"Connection",
		"Proxy-Connection",
		"Keep-Alive",
		"TE",
		"Transfer-Encoding",
		"Upgrade",
	} {
		storable.Del(name)
	}
	return storable
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

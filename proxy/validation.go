package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/always-cache/cache-control/cache"
)

var errNoValidator = errors.New("stored response has no validator")

// conditionalRequest builds the validation request for a stored response:
// a copy of the incoming request with the stored validators attached.
// §  When sending a conditional request for cache validation, a cache
// §  sends one or more precondition header fields containing validator
// §  metadata from its stored response(s)
func conditionalRequest(req *http.Request, res *http.Response) (*http.Request, error) {
	etag := res.Header.Get("ETag")
	lastModified := res.Header.Get("Last-Modified")
	if etag == "" && lastModified == "" {
		return nil, errNoValidator
	}
	validation := req.Clone(req.Context())
	if etag != "" {
		validation.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		validation.Header.Set("If-Modified-Since", lastModified)
	}
	return validation, nil
}

// freshenStoredEntry updates a stored entry after a 304 from the origin:
// the stored header fields are replaced with those of the validation
// response and the entry expiration is recomputed.
// §  the cache MUST update the stored response as described in Section 3.2
func (s *Server) freshenStoredEntry(ce cache.Entry, validationHeader http.Header, requestedAt time.Time) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(ce.Bytes)), nil)
	if err != nil {
		s.log.Error().Err(err).Str("key", ce.Key).Msg("Could not read stored response for freshening")
		return
	}
	defer res.Body.Close()
	for name, values := range validationHeader {
		// §  a cache MUST NOT update ... Content-Length
		if name == "Content-Length" {
			continue
		}
		res.Header[name] = values
	}
	ce.Expires = getExpiration(res)
	ce.RequestedAt = requestedAt
	ce.ReceivedAt = time.Now()
	var buf bytes.Buffer
	if err := res.Write(&buf); err != nil {
		s.log.Error().Err(err).Str("key", ce.Key).Msg("Could not serialize freshened response")
		return
	}
	ce.Bytes = buf.Bytes()
	if err := s.cache.PutEntry(ce); err != nil {
		s.log.Error().Err(err).Str("key", ce.Key).Msg("Could not store freshened response")
	}
}

// Package proxy implements a shared caching reverse proxy. Its behavior
// is driven by the Cache-Control directives of the requests and responses
// passing through it, and every response is annotated with a Cache-Status
// header describing how it was handled.
package proxy

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	cachecontrol "github.com/always-cache/cache-control"
	"github.com/always-cache/cache-control/cache"
	"github.com/always-cache/cache-control/cachestatus"
	cachekey "github.com/always-cache/cache-control/pkg/cache-key"
	tee "github.com/always-cache/cache-control/pkg/response-writer-tee"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	// Cache is the storage backend for stored responses.
	Cache cache.Provider
	// OriginURL is the origin to proxy to.
	OriginURL url.URL
	// OriginHost overrides the Host header sent to the origin.
	OriginHost string
	// CacheName is the name used in Cache-Status headers.
	CacheName string
	// Logger to use. If nil, a console logger is created.
	Logger *zerolog.Logger
	// Transport overrides the transport used for origin requests.
	Transport http.RoundTripper
	// RequestModifier is run on every incoming request before processing.
	RequestModifier func(*http.Request)
	// ResponseModifier is run on every origin response.
	ResponseModifier func(*http.Response) error
	// DisableUpdates turns off the background update process. Stored
	// responses are then invalidated instead of refreshed.
	DisableUpdates bool
	// UpdateTimeout is the interval of the background update process.
	// Zero means the default of one second.
	UpdateTimeout time.Duration
	// Metrics to report to. If nil, collectors are registered on a
	// private registry.
	Metrics *Metrics
}

type Server struct {
	cache         cache.Provider
	keyer         cachekey.Keyer
	log           zerolog.Logger
	cacheName     string
	metrics       *Metrics
	updateTimeout time.Duration
	reverseproxy  httputil.ReverseProxy
	upstream      http.Handler
	modifyRequest func(*http.Request)
	tracer        trace.Tracer
}

// cachedResponse pairs a cache entry with its parsed response.
type cachedResponse struct {
	entry    cache.Entry
	response *http.Response
}

// New initializes a proxy server for one origin. The background update
// process is started unless disabled in the config.
func New(config Config) *Server {
	var logger zerolog.Logger
	if config.Logger != nil {
		logger = *config.Logger
	} else {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	}
	logger = logger.With().Str("origin", config.OriginURL.String()).Logger()

	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	s := &Server{
		cache:         config.Cache,
		keyer:         cachekey.New(config.OriginURL.String()),
		log:           logger,
		cacheName:     config.CacheName,
		metrics:       metrics,
		modifyRequest: config.RequestModifier,
		tracer:        otel.Tracer("github.com/always-cache/cache-control/proxy"),
	}
	if s.cache == nil {
		s.cache = cache.NewMemCache()
	}

	host := config.OriginURL.Host
	hostHeader := host
	transport := config.Transport
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
		if transport == nil {
			transport = &http.Transport{
				TLSClientConfig: &tls.Config{ServerName: config.OriginHost},
			}
		}
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	s.reverseproxy = httputil.ReverseProxy{
		Director:       createDirector(config.OriginURL.Scheme, host, hostHeader),
		Transport:      transport,
		ModifyResponse: config.ResponseModifier,
	}
	if config.OriginURL.String() != "" {
		s.upstream = &s.reverseproxy
	}

	if !config.DisableUpdates {
		s.updateTimeout = time.Second
		if config.UpdateTimeout > 0 {
			s.updateTimeout = config.UpdateTimeout
		}
	}
	if s.upstream != nil && s.updateTimeout != 0 {
		go s.updateLoop()
	}

	return s
}

// Middleware uses next as the origin for the server, so that the cache
// sits in front of an in-process handler instead of a remote origin. It
// is meant for servers created without an origin URL. The returned
// handler is the server itself.
func (s *Server) Middleware(next http.Handler) http.Handler {
	start := s.upstream == nil && s.updateTimeout != 0
	s.upstream = next
	if start {
		go s.updateLoop()
	}
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "proxy",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.RequestURI()),
		))
	defer span.End()
	r = r.WithContext(ctx)

	if s.modifyRequest != nil {
		s.modifyRequest(r)
	}

	if unsafeRequest(r) {
		s.writeThrough(w, r)
		return
	}

	// §  the only-if-cached directive ... the cache SHOULD either respond
	// §  using a stored response ... or respond with a 504 status code
	onlyCached := cachecontrol.ParseValues(r.Header.Values("Cache-Control")).OnlyIfCached()

	matches, anyStored := s.matchingEntries(r)
	reason := cachestatus.FwdReasonUriMiss
	if anyStored {
		reason = cachestatus.FwdReasonVaryMiss
	}
	for _, cr := range matches {
		served, nextReason := s.reuseOrValidate(w, r, cr, onlyCached)
		if served {
			return
		}
		reason = nextReason
	}

	if onlyCached {
		s.sendGatewayTimeout(w, r)
		return
	}

	s.forward(w, r, reason)
}

// matchingEntries returns the stored responses selectable for the request:
// the entries whose recorded vary header values match the presented
// request. The second return value says whether any entry existed for the
// request URI at all, matching or not.
func (s *Server) matchingEntries(r *http.Request) ([]cachedResponse, bool) {
	prefix := s.keyer.KeyPrefix(r)
	entries, err := s.cache.Entries(prefix)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not get entries from cache")
		return nil, false
	}
	matches := make([]cachedResponse, 0, len(entries))
	for _, ce := range entries {
		res := s.readStoredResponse(ce)
		if res == nil {
			continue
		}
		// §  A Vary header field value of "*" always fails to match.
		if varyAsterisk(res) {
			continue
		}
		if ce.Key == s.keyer.WithVary(prefix, r, res) {
			matches = append(matches, cachedResponse{entry: ce, response: res})
		}
	}
	return matches, len(entries) > 0
}

// reuseOrValidate sends the stored response if it is reusable for the
// request, validating it with the origin first if required. It returns
// whether a response was sent to the client, along with the reason the
// stored response could not be used as such.
func (s *Server) reuseOrValidate(w http.ResponseWriter, r *http.Request, cr cachedResponse, onlyCached bool) (bool, cachestatus.FwdReason) {
	reason := reusability(r, cr.response, cr.entry.ReceivedAt, cr.entry.RequestedAt)
	if reason == "" {
		cs := cachestatus.New(s.cacheName)
		cs.Hit()
		cs.TTL(freshness_lifetime(cr.response) - current_age(cr.response, cr.entry.ReceivedAt, cr.entry.RequestedAt))
		s.sendStoredResponse(w, r, cr, cs)
		return true, ""
	}
	if onlyCached {
		// validation would contact the origin, which the client forbade
		return false, reason
	}

	validationReq, err := conditionalRequest(r, cr.response)
	if err != nil {
		// nothing to validate with, the origin must answer in full
		return false, reason
	}
	return true, s.validateAndServe(w, r, cr, validationReq, reason)
}

// validateAndServe forwards the validation request to the origin. On a 304
// the stored response is freshened and served, anything else goes to the
// client as is.
func (s *Server) validateAndServe(w http.ResponseWriter, r *http.Request, cr cachedResponse, validationReq *http.Request, reason cachestatus.FwdReason) cachestatus.FwdReason {
	cs := cachestatus.New(s.cacheName)
	cs.Forward(reason)
	w.Header().Add("Cache-Status", cs.String())

	requestedAt := time.Now()
	rwtee := tee.NewResponseSaver(w, http.StatusNotModified)
	s.upstream.ServeHTTP(rwtee, validationReq)

	if rwtee.StatusCode() != http.StatusNotModified {
		// the client got the full response already, store it as usual
		s.logRequest(r, cs)
		go s.storeAndUpdate(rwtee, r)
		return reason
	}

	s.freshenStoredEntry(cr.entry, rwtee.Header(), requestedAt)
	for name, values := range rwtee.Header() {
		if name == "Content-Length" {
			continue
		}
		cr.response.Header[name] = values
	}
	cr.entry.RequestedAt = requestedAt
	cr.entry.ReceivedAt = time.Now()

	w.Header().Del("Cache-Status")
	cs.FwdStatus(http.StatusNotModified)
	s.sendStoredResponse(w, r, cr, cs)
	return reason
}

// sendStoredResponse writes the stored response to the client, with its
// current age and the given cache status attached.
func (s *Server) sendStoredResponse(w http.ResponseWriter, r *http.Request, cr cachedResponse, cs cachestatus.CacheStatus) {
	res := cr.response
	if res.Body != nil {
		defer res.Body.Close()
	}
	// §  A cache ... MUST generate an Age header field
	res.Header.Set("Age", toDeltaSeconds(current_age(res, cr.entry.ReceivedAt, cr.entry.RequestedAt)))
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not write response body to client")
	}
	s.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	s.logRequest(r, cs)
}

// forward sends the request to the origin and stores the response if
// storing is allowed.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, reason cachestatus.FwdReason) {
	cs := cachestatus.New(s.cacheName)
	cs.Forward(reason)
	w.Header().Add("Cache-Status", cs.String())

	rwtee := tee.NewResponseSaver(w)
	s.upstream.ServeHTTP(rwtee, r)
	s.logRequest(r, cs)

	// for redirects, the redirect target needs to be in the cache before
	// the client acts on the redirect
	if isRedirect(rwtee.StatusCode()) {
		s.storeAndUpdate(rwtee, r)
	} else {
		go s.storeAndUpdate(rwtee, r)
	}
}

// writeThrough forwards an unsafe request to the origin and processes the
// cache side effects of the response.
// §  A cache MUST write through requests with methods that are unsafe
// §  (Section 9.2.1 of [HTTP]) to the origin server
func (s *Server) writeThrough(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, cachestatus.FwdReasonMethod)
}

// sendGatewayTimeout answers a request that only allows stored responses
// when no stored response can be used.
func (s *Server) sendGatewayTimeout(w http.ResponseWriter, r *http.Request) {
	cs := cachestatus.New(s.cacheName)
	cs.Forward(cachestatus.FwdReasonMiss)
	cs.Detail("only-if-cached")
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(http.StatusGatewayTimeout)
	s.logRequest(r, cs)
}

// readStoredResponse parses the entry bytes into a response. The response
// is given a Date header from the entry bookkeeping if it has none.
func (s *Server) readStoredResponse(ce cache.Entry) *http.Response {
	req, err := s.keyer.RequestFromKey(ce.Key)
	if err != nil {
		s.log.Error().Err(err).Str("key", ce.Key).Msg("Could not get request from key")
		return nil
	}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(ce.Bytes)), req)
	if err != nil {
		s.log.Error().Err(err).Str("key", ce.Key).Msg("Could not read stored response")
		return nil
	}
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", ce.ReceivedAt.UTC().Format(http.TimeFormat))
	}
	return res
}

// storeAndUpdate writes the response to the cache if allowed, and
// processes any invalidations and updates the request gives rise to.
func (s *Server) storeAndUpdate(rwtee *tee.ResponseSaver, r *http.Request) {
	if _, err := s.writeCache(rwtee, r); err != nil {
		s.log.Error().Err(err).Msg("Could not write response to cache")
	}
	s.updateRelated(r, &http.Response{
		StatusCode: rwtee.StatusCode(),
		Header:     rwtee.Header(),
		Request:    r,
	})
}

// writeCache stores the recorded response and returns whether it was
// stored.
func (s *Server) writeCache(rwtee *tee.ResponseSaver, r *http.Request) (bool, error) {
	res := &http.Response{
		StatusCode: rwtee.StatusCode(),
		Header:     rwtee.Header(),
		Request:    r,
	}
	if mustNotStore(r, res) {
		return false, nil
	}
	key := s.keyer.WithVary(s.keyer.KeyPrefix(r), r, res)
	ce := cache.Entry{
		Key:         key,
		Expires:     getExpiration(res),
		RequestedAt: rwtee.CreatedAt,
		ReceivedAt:  time.Now(),
		Bytes:       rwtee.Response(),
	}
	s.log.Trace().Str("key", key).Time("expires", ce.Expires).Msg("Writing response to cache")
	if err := s.cache.PutEntry(ce); err != nil {
		return false, err
	}
	s.metrics.StoredTotal.Inc()
	return true, nil
}

func (s *Server) logRequest(r *http.Request, cs cachestatus.CacheStatus) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("cache.status", cs.Status()),
		attribute.String("cache.fwd_reason", string(cs.Reason())),
	)
	s.metrics.RequestsTotal.WithLabelValues(cs.Status(), string(cs.Reason())).Inc()
	isHit := 0
	if cs.Status() == "hit" {
		isHit = 1
	}
	s.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", requestSourceIp(r)).
		Str("status", cs.Status()).
		Str("fwd", string(cs.Reason())).
		Int("ttl", cs.TimeToLive()).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func createDirector(scheme, host, hostHeader string) func(*http.Request) {
	return func(r *http.Request) {
		r.URL.Scheme = scheme
		r.URL.Host = host
		r.Host = hostHeader
	}
}

// varyAsterisk says whether the response nominates all request headers
// for variant selection.
func varyAsterisk(res *http.Response) bool {
	for _, vary := range res.Header.Values("Vary") {
		if strings.Contains(vary, "*") {
			return true
		}
	}
	return false
}

func isRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

func requestSourceIp(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// copyHeader copies headers from src to dst, except for X-Forwarded-*
// headers recorded with the stored response.
func copyHeader(dst, src http.Header) {
	for name, values := range src {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "X-Forwarded-") {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

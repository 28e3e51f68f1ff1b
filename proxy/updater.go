package proxy

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	cachekey "github.com/always-cache/cache-control/pkg/cache-key"
	tee "github.com/always-cache/cache-control/pkg/response-writer-tee"
)

// updateLoop runs an infinite loop to update the cache, one entry at a
// time. It queries the cache for the GET entry expiring soonest. If that
// entry expires within the update timeout it is refreshed, otherwise the
// loop pauses for the timeout duration.
func (s *Server) updateLoop() {
	s.log.Info().Msgf("Starting cache update loop with timeout %s", s.updateTimeout)
	for {
		key, expiry, err := s.cache.Oldest(s.keyer.MethodPrefix(http.MethodGet))
		if err != nil {
			s.log.Error().Err(err).Msg("Could not get oldest entry")
			time.Sleep(s.updateTimeout)
			continue
		}
		if key != "" && time.Until(expiry) <= s.updateTimeout {
			s.updateEntry(key)
		} else {
			s.log.Trace().Msg("No entries about to expire, pausing update")
			time.Sleep(s.updateTimeout)
		}
	}
}

// updateEntry refreshes the stored response identified by the key. An
// entry that cannot be refreshed is purged, so that the cache never keeps
// returning to something the origin no longer caches.
func (s *Server) updateEntry(key string) {
	purge := func() {
		if err := s.cache.Purge(key); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("Could not purge entry")
		}
		s.metrics.UpdatesTotal.WithLabelValues("purge").Inc()
	}

	req, err := s.keyer.RequestFromKey(key)
	if err != nil {
		if err != cachekey.ErrMethodNotSupported {
			s.log.Error().Err(err).Str("key", key).Msg("Could not create request from key")
		}
		purge()
		return
	}
	s.log.Trace().Str("key", key).Str("req.path", req.URL.Path).Msg("Updating cache")

	cached, err := s.refresh(req, key)
	if err != nil || !cached {
		// transient origin problems should not purge the entry right away
		time.Sleep(time.Second)
		cached, err = s.refresh(req, key)
	}
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not update cache entry")
	}
	if err != nil || !cached {
		purge()
		return
	}
	s.metrics.UpdatesTotal.WithLabelValues("ok").Inc()
}

// refresh requests the content for a stored response from the origin and
// stores the outcome. It returns whether the response was stored.
func (s *Server) refresh(req *http.Request, key string) (bool, error) {
	s.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("key", key).
		Msg("Requesting content from origin")
	rwtee := tee.NewResponseSaver(nil)
	s.upstream.ServeHTTP(rwtee, req)
	return s.writeCache(rwtee, req)
}

// UpdateAll refreshes every replayable entry stored for the origin.
func (s *Server) UpdateAll() error {
	return s.cache.Keys(s.keyer.OriginPrefix, func(key string) {
		s.updateEntry(key)
	})
}

// updateRelated processes the cache side effects of a forwarded request:
// invalidation of the URIs affected per the caching rules, plus any
// updates instructed by a Cache-Update header on the response.
func (s *Server) updateRelated(req *http.Request, res *http.Response) {
	uris := invalidationURIs(req, res)
	if s.updateTimeout == 0 {
		s.invalidateUris(uris)
	} else {
		s.revalidateUris(uris)
	}
	s.applyCacheUpdates(cacheUpdates(req, res))
}

// §  A cache MUST invalidate the target URI (Section 7.1 of [HTTP]) when
// §  it receives a non-error status code in response to an unsafe request
// §  method (including methods whose safety is unknown).
// §  A cache MAY invalidate other URIs when it receives a non-error status
// §  code in response to an unsafe request method (including methods whose
// §  safety is unknown). In particular, the URI(s) in the Location and
// §  Content-Location response header fields (if present) are candidates
// §  for invalidation; other URIs might be discovered through mechanisms
// §  not specified in this document. However, a cache MUST NOT trigger an
// §  invalidation under these conditions if the origin (Section 4.3.1 of
// §  [HTTP]) of the URI to be invalidated differs from that of the target
// §  URI (Section 7.1 of [HTTP]).
func invalidationURIs(req *http.Request, res *http.Response) []string {
	if !unsafeRequest(req) || !nonErrorStatus(res.StatusCode) {
		return nil
	}
	uris := []string{req.URL.RequestURI()}
	for _, name := range []string{"Location", "Content-Location"} {
		value := res.Header.Get(name)
		if value == "" {
			continue
		}
		ref, err := url.Parse(value)
		if err != nil {
			continue
		}
		target := req.URL.ResolveReference(ref)
		if target.Host != "" && target.Host != req.Host {
			continue
		}
		uris = append(uris, target.RequestURI())
	}
	return uris
}

// §  "Safe" methods are HTTP methods that are essentially read-only
func unsafeRequest(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// §  Here, a "non-error response" is one with a 2xx (Successful) or 3xx
// §  (Redirection) status code.
func nonErrorStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 400
}

// invalidateUris purges all stored response variants for the given URIs.
func (s *Server) invalidateUris(uris []string) {
	for _, uri := range uris {
		s.log.Trace().Str("uri", uri).Msg("Invalidating stored responses")
		req, err := http.NewRequest(http.MethodGet, uri, nil)
		if err != nil {
			s.log.Error().Err(err).Str("uri", uri).Msg("Could not create request for invalidation")
			continue
		}
		err = s.cache.Keys(s.keyer.KeyPrefix(req), func(key string) {
			if err := s.cache.Purge(key); err != nil {
				s.log.Error().Err(err).Str("key", key).Msg("Could not purge stored response")
			}
		})
		if err != nil {
			s.log.Error().Err(err).Str("uri", uri).Msg("Could not list keys for invalidation")
		}
	}
}

// revalidateUris refreshes the stored responses for the given URIs instead
// of just dropping them, so that the next client gets a cached response.
// Every stored variant is refreshed, each with its own vary headers.
func (s *Server) revalidateUris(uris []string) {
	for _, uri := range uris {
		s.log.Trace().Str("uri", uri).Msg("Revalidating stored responses")
		req, err := http.NewRequest(http.MethodGet, uri, nil)
		if err != nil {
			s.log.Error().Err(err).Str("uri", uri).Msg("Could not create request for revalidation")
			continue
		}
		err = s.cache.Keys(s.keyer.KeyPrefix(req), func(key string) {
			varReq, err := s.keyer.RequestFromKey(key)
			if err != nil {
				s.log.Error().Err(err).Str("key", key).Msg("Could not create request from key")
				return
			}
			if _, err := s.refresh(varReq, key); err != nil {
				s.log.Error().Err(err).Str("key", key).Msg("Could not revalidate stored response")
			}
		})
		if err != nil {
			s.log.Error().Err(err).Str("uri", uri).Msg("Could not list keys for revalidation")
		}
	}
}

// update is one Cache-Update header instruction: refresh the cache for a
// related path, optionally after a delay.
type update struct {
	// Fully resolved relative path of the resource to update.
	path string
	// Update delay, i.e. delay the update by this duration.
	delay time.Duration
}

var delayPattern = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// cacheUpdates returns the updates requested by the response to a write.
// Potentially relative paths are resolved against the request URI.
func cacheUpdates(req *http.Request, res *http.Response) []update {
	if !unsafeRequest(req) {
		return nil
	}
	updates := make([]update, 0)
	for _, header := range res.Header.Values("Cache-Update") {
		value := header
		if i := strings.Index(header, ";"); i != -1 {
			value = header[:i]
		}
		updates = append(updates, update{
			path:  req.URL.ResolveReference(&url.URL{Path: strings.TrimSpace(value)}).Path,
			delay: updateDelay(header),
		})
	}
	return updates
}

// updateDelay parses the delay parameter, given as `delay=N` in seconds.
func updateDelay(header string) time.Duration {
	if matches := delayPattern.FindStringSubmatch(header); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}

func (s *Server) applyCacheUpdates(updates []update) {
	for _, u := range updates {
		u := u // the delayed goroutine below must see this iteration's update
		s.log.Trace().Str("path", u.path).Dur("delay", u.delay).Msg("Updating cache based on header")
		doUpdate := func() {
			req, err := http.NewRequest(http.MethodGet, u.path, nil)
			if err != nil {
				s.log.Error().Err(err).Str("path", u.path).Msg("Could not create request for update")
				return
			}
			if _, err := s.refresh(req, s.keyer.KeyPrefix(req)); err != nil {
				s.log.Error().Err(err).Str("path", u.path).Msg("Could not update cache")
			}
		}
		if u.delay > 0 {
			go func() {
				time.Sleep(u.delay)
				doUpdate()
			}()
		} else {
			doUpdate()
		}
	}
}

package proxy

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	cachecontrol "github.com/always-cache/cache-control"
	"github.com/always-cache/cache-control/cachestatus"
)

// The freshness model: a stored response is fresh until its age exceeds
// its freshness lifetime. Response time and request time are the
// timestamps recorded with the cache entry.

// §  response_is_fresh = (freshness_lifetime > current_age)
func isFresh(res *http.Response, responseTime, requestTime time.Time) bool {
	return freshness_lifetime(res) > current_age(res, responseTime, requestTime)
}

// freshness_lifetime is the length of time between the generation of a
// response and its expiration time. The first of the following applies:
// the s-maxage directive (this is a shared cache), the max-age directive,
// or the Expires header minus the Date header. Zero means the response has
// no explicit expiration time.
func freshness_lifetime(res *http.Response) time.Duration {
	resCacheControl := cachecontrol.ParseValues(res.Header.Values("Cache-Control"))
	if lifetime, ok := resCacheControl.SMaxAge(); ok {
		return lifetime
	}
	if lifetime, ok := resCacheControl.MaxAge(); ok {
		return lifetime
	}
	if expires, err := getExpires(res); err == nil {
		if date, err := httpDate(res.Header.Get("Date")); err == nil {
			return expires.Sub(date)
		}
	}
	return 0
}

// §  age_value: the term "age_value" denotes the value of the Age header
// §  field, in a form appropriate for arithmetic operation; or 0, if not
// §  available.
func age_value(res *http.Response) time.Duration {
	if age, ok := getAge(res); ok {
		return age
	}
	return 0
}

// §  date_value: the term "date_value" denotes the value of the Date
// §  header field, in a form appropriate for arithmetic operations.
// Stored responses are given a Date header on retrieval, so the value can
// be assumed present.
func date_value(res *http.Response) time.Time {
	if date, err := httpDate(res.Header.Get("Date")); err == nil {
		return date
	}
	return time.Time{}
}

// §  apparent_age = max(0, response_time - date_value);
func apparent_age(res *http.Response, responseTime time.Time) time.Duration {
	return durationMax(0, responseTime.Sub(date_value(res)))
}

// §  response_delay = response_time - request_time;
func response_delay(responseTime, requestTime time.Time) time.Duration {
	return responseTime.Sub(requestTime)
}

// §  corrected_age_value = age_value + response_delay;
func corrected_age_value(res *http.Response, responseTime, requestTime time.Time) time.Duration {
	return age_value(res) + response_delay(responseTime, requestTime)
}

// §  corrected_initial_age = max(apparent_age, corrected_age_value);
func corrected_initial_age(res *http.Response, responseTime, requestTime time.Time) time.Duration {
	return durationMax(
		apparent_age(res, responseTime),
		corrected_age_value(res, responseTime, requestTime))
}

// §  resident_time = now - response_time;
func resident_time(responseTime time.Time) time.Duration {
	return time.Since(responseTime)
}

// §  current_age = corrected_initial_age + resident_time;
func current_age(res *http.Response, responseTime, requestTime time.Time) time.Duration {
	return corrected_initial_age(res, responseTime, requestTime) + resident_time(responseTime)
}

func durationMax(d1, d2 time.Duration) time.Duration {
	if d1 > d2 {
		return d1
	}
	return d2
}

// reusability decides whether the stored response may satisfy the request,
// based on the cache directives of both and the freshness calculation. An
// empty forward reason means the response may be served as is. A non-empty
// reason means the response must first be successfully validated with the
// origin, or failing that, the request forwarded.
func reusability(req *http.Request, res *http.Response, responseTime, requestTime time.Time) cachestatus.FwdReason {
	reqCacheControl := cachecontrol.ParseValues(req.Header.Values("Cache-Control"))
	resCacheControl := cachecontrol.ParseValues(res.Header.Values("Cache-Control"))

	lifetime := freshness_lifetime(res)
	age := current_age(res, responseTime, requestTime)
	fresh := lifetime > age

	var reason cachestatus.FwdReason

	// §  The no-cache response directive ... indicates that the response
	// §  MUST NOT be used to satisfy any other request without forwarding
	// §  it for validation
	if tag, ok := resCacheControl.Cachability(); ok && tag == cachecontrol.NoCache {
		reason = cachestatus.FwdReasonStale
	}

	// Client-requested validation and freshness constraints. A fresh
	// response marked immutable is exempt (RFC 8246).
	if !(fresh && resCacheControl.Immutable()) {
		if tag, ok := reqCacheControl.Cachability(); ok && tag == cachecontrol.NoCache {
			reason = cachestatus.FwdReasonRequest
		}
		if maxAge, ok := reqCacheControl.MaxAge(); ok && age > maxAge {
			reason = cachestatus.FwdReasonRequest
		}
		if minFresh, ok := reqCacheControl.MinFresh(); ok && lifetime-age < minFresh {
			reason = cachestatus.FwdReasonRequest
		}
	}

	if !fresh {
		// §  A cache MUST NOT generate a stale response unless ... doing
		// §  so is explicitly permitted by the client or origin server
		staleOK := false
		if maxStale, ok := reqCacheControl.MaxStale(); ok && maxStale.Allows(age-lifetime) {
			staleOK = !resCacheControl.MustRevalidate() && !resCacheControl.ProxyRevalidate()
		}
		if !staleOK && reason == "" {
			reason = cachestatus.FwdReasonStale
		}
	}

	return reason
}

const imfDateLayout = "Mon, 02 Jan 2006 15:04:05 MST"

// httpDate parses an HTTP-date in any of the three allowed formats.
// Matching is case-insensitive.
func httpDate(dateStr string) (time.Time, error) {
	if date, err := imfDate(dateStr); err == nil {
		return date, nil
	}
	return obsDate(dateStr)
}

func imfDate(dateStr string) (time.Time, error) {
	date, err := time.Parse(imfDateLayout, normalizeDateStr(dateStr))
	if err != nil {
		return date, err
	}
	if date.Location().String() != "GMT" {
		return date, fmt.Errorf("date %s is not in GMT but %s", date, date.Location())
	}
	return date, nil
}

func obsDate(dateStr string) (time.Time, error) {
	str := normalizeDateStr(dateStr)
	if date, err := time.Parse(time.RFC850, str); err == nil {
		return date, nil
	}
	return time.Parse(time.ANSIC, str)
}

// HTTP-date is case sensitive, but cache recipients match it loosely.
func normalizeDateStr(dateStr string) string {
	return strings.ToUpper(dateStr)
}

// getAge returns the value of the Age header. An invalid value is treated
// as absent.
func getAge(res *http.Response) (time.Duration, bool) {
	ageSeconds := res.Header.Get("Age")
	if ageSeconds == "" {
		return 0, false
	}
	age, err := strconv.ParseUint(ageSeconds, 10, 32)
	if err != nil {
		return 0, false
	}
	return time.Second * time.Duration(age), true
}

// getExpires parses the Expires header. Absent and unparseable values,
// e.g. "0", return an error.
func getExpires(res *http.Response) (time.Time, error) {
	return httpDate(res.Header.Get("Expires"))
}

// toDeltaSeconds formats a duration as the whole seconds used in header
// field values such as Age.
func toDeltaSeconds(duration time.Duration) string {
	return fmt.Sprintf("%.f", duration.Seconds())
}

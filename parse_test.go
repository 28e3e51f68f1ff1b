package cachecontrol

import (
	"testing"
	"time"
)

func TestParseHeaderLine(t *testing.T) {
	cc := Parse("Cache-Control: public, max-age=60")
	if tag, ok := cc.Cachability(); !ok || tag != Public {
		t.Fatalf("cachability: %s, %v", tag, ok)
	}
	if age, ok := cc.MaxAge(); !ok || age != 60*time.Second {
		t.Fatalf("max-age: %s, %v", age, ok)
	}
	// everything else stays absent
	if cc.NoStore() || cc.NoTransform() || cc.MustRevalidate() ||
		cc.ProxyRevalidate() || cc.OnlyIfCached() || cc.Immutable() {
		t.Fatalf("unexpected flags set: %+v", cc)
	}
	if _, ok := cc.SMaxAge(); ok {
		t.Fatal("s-maxage should be absent")
	}
	if _, ok := cc.MinFresh(); ok {
		t.Fatal("min-fresh should be absent")
	}
	if _, ok := cc.MaxStale(); ok {
		t.Fatal("max-stale should be absent")
	}
}

func TestParseBareValueEqualsHeaderLine(t *testing.T) {
	bare := Parse("no-cache, max-age=5")
	line := Parse("cache-control:no-cache, max-age=5")
	if bare != line {
		t.Fatalf("bare %+v != line %+v", bare, line)
	}
}

func TestParsePrefixIsCaseInsensitive(t *testing.T) {
	cc := Parse("CACHE-CONTROL: no-store")
	if !cc.NoStore() {
		t.Fatal("no-store not set")
	}
}

func TestParseOnlyOnePrefixStripped(t *testing.T) {
	// the second "Cache-Control:" is just an unknown directive name
	cc := Parse("Cache-Control: Cache-Control: no-store")
	if cc.NoStore() {
		t.Fatal("no-store should not be set")
	}
	if cc != (CacheControl{}) {
		t.Fatalf("expected empty result, got %+v", cc)
	}
}

func TestParseAlmostPrefixIsBareValue(t *testing.T) {
	// no colon after the field name, so this is all one unknown token
	cc := Parse("Cache-Control no-store")
	if cc.NoStore() {
		t.Fatal("no-store should not be set")
	}
}

func TestParseDirectiveNamesCaseInsensitive(t *testing.T) {
	upper := Parse("PUBLIC, Max-Age=60")
	lower := Parse("public, max-age=60")
	if upper != lower {
		t.Fatalf("upper %+v != lower %+v", upper, lower)
	}
}

func TestParseEmptyInput(t *testing.T) {
	cc := Parse("")
	if cc != (CacheControl{}) {
		t.Fatalf("expected empty result, got %+v", cc)
	}
}

func TestParseLastSeenWins(t *testing.T) {
	cc := Parse("max-age=10, max-age=20")
	if age, ok := cc.MaxAge(); !ok || age != 20*time.Second {
		t.Fatalf("max-age: %s, %v", age, ok)
	}
}

func TestParseLastCachabilityWins(t *testing.T) {
	cc := Parse("public, private")
	if tag, ok := cc.Cachability(); !ok || tag != Private {
		t.Fatalf("cachability: %s, %v", tag, ok)
	}
	cc = Parse("private, no-cache, public")
	if tag, ok := cc.Cachability(); !ok || tag != Public {
		t.Fatalf("cachability: %s, %v", tag, ok)
	}
}

func TestParseLaterInvalidValueClearsField(t *testing.T) {
	// the later occurrence wins even though its value is garbage
	cc := Parse("max-age=60, max-age=banana")
	if age, ok := cc.MaxAge(); ok {
		t.Fatalf("max-age should be absent, got %s", age)
	}
}

func TestParseBooleanIgnoresGarbageValue(t *testing.T) {
	cc := Parse("no-store=xyz")
	if !cc.NoStore() {
		t.Fatal("no-store not set")
	}
	cc = Parse("public=1")
	if tag, ok := cc.Cachability(); !ok || tag != Public {
		t.Fatalf("cachability: %s, %v", tag, ok)
	}
}

func TestParseMalformedNumberDegradesToAbsent(t *testing.T) {
	for _, value := range []string{
		"max-age=notanumber",
		"max-age=-5",
		"max-age=+5",
		"max-age=1.5",
		"max-age=",
		"max-age",
	} {
		cc := Parse(value)
		if age, ok := cc.MaxAge(); ok {
			t.Fatalf("%q: max-age should be absent, got %s", value, age)
		}
	}
}

func TestParseQuotedValue(t *testing.T) {
	quoted := Parse(`max-stale="30"`)
	plain := Parse("max-stale=30")
	if quoted != plain {
		t.Fatalf("quoted %+v != plain %+v", quoted, plain)
	}
	ms, ok := quoted.MaxStale()
	if !ok || ms.Unbounded() {
		t.Fatalf("max-stale: %+v, %v", ms, ok)
	}
	if limit, ok := ms.Lifetime(); !ok || limit != 30*time.Second {
		t.Fatalf("lifetime: %s, %v", limit, ok)
	}
}

func TestParseZeroMaxAgeIsPresent(t *testing.T) {
	cc := Parse("max-age=0")
	if age, ok := cc.MaxAge(); !ok || age != 0 {
		t.Fatalf("max-age: %s, %v", age, ok)
	}
}

func TestParseMaxStaleWithoutValueIsUnbounded(t *testing.T) {
	cc := Parse("max-stale")
	ms, ok := cc.MaxStale()
	if !ok {
		t.Fatal("max-stale should be present")
	}
	if !ms.Unbounded() {
		t.Fatalf("max-stale should be unbounded: %+v", ms)
	}
	if _, ok := ms.Lifetime(); ok {
		t.Fatal("unbounded tolerance has no lifetime")
	}
}

func TestParseMaxStaleInvalidValueIsAbsent(t *testing.T) {
	// an unparseable limit degrades to absent, not to unbounded
	for _, value := range []string{"max-stale=oops", "max-stale=", `max-stale=""`} {
		cc := Parse(value)
		if ms, ok := cc.MaxStale(); ok {
			t.Fatalf("%q: max-stale should be absent, got %+v", value, ms)
		}
	}
}

func TestParseSplitsOnFirstEqualsOnly(t *testing.T) {
	cc := Parse(`max-age="6=0", no-store`)
	if age, ok := cc.MaxAge(); ok {
		t.Fatalf("max-age should be absent, got %s", age)
	}
	if !cc.NoStore() {
		t.Fatal("no-store not set")
	}
}

func TestParseQuotedCommaIsNotASeparator(t *testing.T) {
	cc := Parse(`no-cache="set-cookie,vary", max-age=10`)
	if tag, ok := cc.Cachability(); !ok || tag != NoCache {
		t.Fatalf("cachability: %s, %v", tag, ok)
	}
	if age, ok := cc.MaxAge(); !ok || age != 10*time.Second {
		t.Fatalf("max-age: %s, %v", age, ok)
	}
}

func TestParseUnknownDirectivesIgnored(t *testing.T) {
	cc := Parse(`stale-while-revalidate=60, community="UCI", no-store`)
	if !cc.NoStore() {
		t.Fatal("no-store not set")
	}
	cc.noStore = false
	if cc != (CacheControl{}) {
		t.Fatalf("unknown directives affected the result: %+v", cc)
	}
}

func TestParseAllDirectives(t *testing.T) {
	cc := Parse("private, no-store, no-transform, must-revalidate, " +
		"proxy-revalidate, max-age=1, s-maxage=2, max-stale=3, min-fresh=4, " +
		"only-if-cached, immutable")
	if tag, ok := cc.Cachability(); !ok || tag != Private {
		t.Fatalf("cachability: %s, %v", tag, ok)
	}
	if !cc.NoStore() || !cc.NoTransform() || !cc.MustRevalidate() ||
		!cc.ProxyRevalidate() || !cc.OnlyIfCached() || !cc.Immutable() {
		t.Fatalf("flags: %+v", cc)
	}
	if age, ok := cc.MaxAge(); !ok || age != time.Second {
		t.Fatalf("max-age: %s, %v", age, ok)
	}
	if age, ok := cc.SMaxAge(); !ok || age != 2*time.Second {
		t.Fatalf("s-maxage: %s, %v", age, ok)
	}
	ms, ok := cc.MaxStale()
	if !ok || ms.Unbounded() {
		t.Fatalf("max-stale: %+v, %v", ms, ok)
	}
	if fresh, ok := cc.MinFresh(); !ok || fresh != 4*time.Second {
		t.Fatalf("min-fresh: %s, %v", fresh, ok)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	const value = `public, max-age=60, max-stale, community="a,b", no-transform`
	first := Parse(value)
	for i := 0; i < 3; i++ {
		if again := Parse(value); again != first {
			t.Fatalf("parse #%d: %+v != %+v", i, again, first)
		}
	}
}

func TestParseNeverPanics(t *testing.T) {
	for _, value := range []string{
		"",
		",",
		",,,",
		`"`,
		`"""`,
		"=",
		"=,=",
		`Cache-Control:`,
		`Cache-Control: "`,
		"max-age=60, \"unterminated",
		"\\",
		`a\"b`,
	} {
		// must return a structure, never abort
		_ = Parse(value)
	}
}

func TestParseValuesFoldsLines(t *testing.T) {
	cc := ParseValues([]string{"no-store", "max-age=10"})
	if !cc.NoStore() {
		t.Fatal("no-store not set")
	}
	if age, ok := cc.MaxAge(); !ok || age != 10*time.Second {
		t.Fatalf("max-age: %s, %v", age, ok)
	}
}

func TestParseValuesLaterLineWins(t *testing.T) {
	cc := ParseValues([]string{"max-age=10", "max-age=20"})
	if age, ok := cc.MaxAge(); !ok || age != 20*time.Second {
		t.Fatalf("max-age: %s, %v", age, ok)
	}
}

func TestParseValuesEmpty(t *testing.T) {
	if cc := ParseValues(nil); cc != (CacheControl{}) {
		t.Fatalf("expected empty result, got %+v", cc)
	}
}

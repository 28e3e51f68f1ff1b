package responsetransformer

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func response(t *testing.T, method, target string, header http.Header) *http.Response {
	t.Helper()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Request:    httptest.NewRequest(method, target, nil),
	}
}

func TestOverrideReplacesHeader(t *testing.T) {
	rules := Rules{{Path: "/page", Override: "max-age=60"}}
	res := response(t, "GET", "http://origin/page", http.Header{"Cache-Control": []string{"no-store"}})
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "max-age=60" {
		t.Fatalf("Cache-Control is %q", cc)
	}
}

func TestDefaultOnlyAppliesWhenHeaderMissing(t *testing.T) {
	rules := Rules{{Prefix: "/", Default: "max-age=60"}}

	res := response(t, "GET", "http://origin/page", nil)
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "max-age=60" {
		t.Fatalf("Cache-Control is %q", cc)
	}

	res = response(t, "GET", "http://origin/page", http.Header{"Cache-Control": []string{"no-store"}})
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control is %q", cc)
	}
}

func TestNoTransformResponseLeftUntouched(t *testing.T) {
	rules := Rules{{Prefix: "/", Override: "max-age=60", Headers: map[string]string{"X-Rule": "yes"}}}
	res := response(t, "GET", "http://origin/page", http.Header{"Cache-Control": []string{"no-transform"}})
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "no-transform" {
		t.Fatalf("Cache-Control is %q", cc)
	}
	if res.Header.Get("X-Rule") != "" {
		t.Fatal("rule headers applied to no-transform response")
	}
}

func TestNoTransformOnSecondFieldLine(t *testing.T) {
	rules := Rules{{Prefix: "/", Override: "max-age=999"}}
	res := response(t, "GET", "http://origin/page", http.Header{
		"Cache-Control": []string{"max-age=60", "no-transform"},
	})
	rules.Apply(res)
	cc := res.Header.Values("Cache-Control")
	if len(cc) != 2 || cc[0] != "max-age=60" || cc[1] != "no-transform" {
		t.Fatalf("no-transform response was modified: Cache-Control is %v", cc)
	}
}

func TestRulesOnlyApplyToSuccesses(t *testing.T) {
	rules := Rules{{Prefix: "/", Override: "max-age=60"}}
	res := response(t, "GET", "http://origin/missing", nil)
	res.StatusCode = http.StatusNotFound
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "" {
		t.Fatalf("Cache-Control is %q", cc)
	}
}

func TestQueryMatch(t *testing.T) {
	rules := Rules{{Path: "/page", Query: map[string]string{"preview": ""}, Override: "no-store"}}

	res := response(t, "GET", "http://origin/page?preview=1", nil)
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control is %q", cc)
	}

	res = response(t, "GET", "http://origin/page", nil)
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "" {
		t.Fatalf("Cache-Control is %q", cc)
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	rules := Rules{
		{Path: "/page", Override: "no-store"},
		{Prefix: "/", Override: "max-age=60"},
	}
	res := response(t, "GET", "http://origin/page", nil)
	rules.Apply(res)
	if cc := res.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control is %q", cc)
	}
}

func TestValidateAcceptsRecognizedValues(t *testing.T) {
	rules := Rules{
		{Prefix: "/", Default: "public, max-age=3600"},
		{Path: "/private", Override: "private"},
	}
	if err := rules.Validate(); err != nil {
		t.Fatalf("Validate returned %s", err)
	}
}

func TestValidateRejectsTypos(t *testing.T) {
	rules := Rules{{Prefix: "/", Override: "max-age sixty"}}
	if err := rules.Validate(); err == nil {
		t.Fatal("Validate accepted an unrecognized value")
	}
}

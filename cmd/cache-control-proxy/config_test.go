package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	responsetransformer "github.com/always-cache/cache-control/pkg/response-transformer"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port is %d", cfg.Port)
	}
	if cfg.AdminAddr != ":9091" {
		t.Fatalf("admin addr is %s", cfg.AdminAddr)
	}
	if cfg.DB != "cache.db" {
		t.Fatalf("db is %s", cfg.DB)
	}
}

func TestLoadConfigFile(t *testing.T) {
	contents := `
port: 9000
db: memory
origins:
  - origin: https://example.com
    cache-name: example
    hosts:
      - www.example.com
    rules:
      - prefix: /
        default: max-age=60
`
	filename := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port is %d", cfg.Port)
	}
	if cfg.DB != "memory" {
		t.Fatalf("db is %s", cfg.DB)
	}
	if len(cfg.Origins) != 1 {
		t.Fatalf("origins are %+v", cfg.Origins)
	}
	origin := cfg.Origins[0]
	if origin.CacheName != "example" {
		t.Fatalf("cache name is %s", origin.CacheName)
	}
	if len(origin.Hosts) != 1 || origin.Hosts[0] != "www.example.com" {
		t.Fatalf("hosts are %v", origin.Hosts)
	}
	if origin.Rules[0].Default != "max-age=60" {
		t.Fatalf("rules are %+v", origin.Rules)
	}
}

func TestValidateRejectsMissingOrigins(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.validate(); err == nil {
		t.Fatal("no error for empty origins")
	}
	cfg.Origins = []OriginConfig{{}}
	if err := cfg.validate(); err == nil {
		t.Fatal("no error for origin without url or address")
	}
}

func TestValidateRejectsUnrecognizedRuleValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Origins = []OriginConfig{{
		Origin: "https://example.com",
		Rules:  responsetransformer.Rules{{Prefix: "/", Override: "maxage sixty"}},
	}}
	if err := cfg.validate(); err == nil {
		t.Fatal("no error for unrecognized rule value")
	}
}

func TestOriginURLFromAddr(t *testing.T) {
	origin := OriginConfig{Addr: "192.0.2.10", Host: "example.com"}
	originUrl, host, err := origin.originURL()
	if err != nil {
		t.Fatal(err)
	}
	if originUrl.String() != "https://192.0.2.10" {
		t.Fatalf("url is %s", originUrl.String())
	}
	if host != "example.com" {
		t.Fatalf("host is %s", host)
	}
}

func TestHostRouter(t *testing.T) {
	name := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(name))
		})
	}
	router := hostRouter{
		byHost: map[string]http.Handler{"a.example.com": name("a")},
	}

	serve := func(host string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "http://placeholder/", nil)
		req.Host = host
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := serve("a.example.com:8080"); rec.Body.String() != "a" {
		t.Fatalf("body is %q", rec.Body.String())
	}
	if rec := serve("unknown.example.com"); rec.Code != http.StatusMisdirectedRequest {
		t.Fatalf("status is %d", rec.Code)
	}

	router.fallback = name("fallback")
	if rec := serve("unknown.example.com"); rec.Body.String() != "fallback" {
		t.Fatalf("body is %q", rec.Body.String())
	}
}

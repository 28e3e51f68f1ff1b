package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/cache-control/cache"
	"github.com/always-cache/cache-control/proxy"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	adminFlag          string
	originFlag         string
	addrFlag           string
	hostFlag           string
	dbFilenameFlag     string
	legacyModeFlag     bool
	updateAllFlag      bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Configuration file to use")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on")
	flag.StringVar(&adminFlag, "admin", "", "Listen address for metrics and health endpoints")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&legacyModeFlag, "legacy", false, "Legacy mode: do not update, only invalidate if needed")
	flag.BoolVar(&updateAllFlag, "update-all", false, "Refresh all stored responses on startup")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().
		Str("version", version).
		Str("instance", uuid.NewString()).
		Logger()

	cfg, err := loadConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if adminFlag != "" {
		cfg.AdminAddr = adminFlag
	}
	if dbFilenameFlag != "" {
		cfg.DB = dbFilenameFlag
	}
	if originFlag != "" || addrFlag != "" {
		cfg.Origins = []OriginConfig{{
			Origin: originFlag,
			Addr:   addrFlag,
			Host:   hostFlag,
			Legacy: legacyModeFlag,
		}}
	}
	if err := cfg.validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// set up the sqlite cache provider
	dbFilename := cfg.DB
	if dbFilename == "memory" {
		dbFilename = ""
	}
	provider, err := cache.NewSQLiteCache(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache database")
	}
	defer provider.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := proxy.NewMetrics(registry)

	// origin lookups use cached DNS, refreshed in the background
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	router, servers, err := originServers(cfg, provider, metrics, cachedTransport(resolver))
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up origins")
	}

	if updateAllFlag {
		for _, server := range servers {
			if err := server.UpdateAll(); err != nil {
				log.Error().Err(err).Msg("Could not update stored responses")
			}
		}
	}

	var handler http.Handler = router
	handler = hlog.RequestIDHandler("request_id", "X-Request-Id")(handler)
	handler = hlog.RemoteAddrHandler("ip")(handler)
	handler = hlog.NewHandler(log.Logger)(handler)

	admin := chi.NewRouter()
	admin.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	admin.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	proxyServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: admin}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Proxying port %v to %d origin(s)", cfg.Port, len(cfg.Origins))
		if err := proxyServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Msgf("Serving metrics and health on %s", cfg.AdminAddr)
		if err := adminServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		adminServer.Shutdown(shutdownCtx)
		return proxyServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

// originServers creates a proxy server per configured origin and a router
// directing requests to them by request host.
func originServers(cfg Config, provider cache.Provider, metrics *proxy.Metrics, transport http.RoundTripper) (http.Handler, []*proxy.Server, error) {
	router := hostRouter{byHost: make(map[string]http.Handler)}
	servers := make([]*proxy.Server, 0, len(cfg.Origins))
	for _, originConfig := range cfg.Origins {
		originUrl, originHost, err := originConfig.originURL()
		if err != nil {
			return nil, nil, err
		}
		proxyConfig := proxy.Config{
			Cache:          provider,
			OriginURL:      originUrl,
			OriginHost:     originHost,
			CacheName:      originConfig.CacheName,
			Logger:         &log.Logger,
			DisableUpdates: originConfig.Legacy,
			Metrics:        metrics,
		}
		// an origin addressed by IP needs its own transport for TLS
		if originHost == "" {
			proxyConfig.Transport = transport
		}
		if len(originConfig.Rules) > 0 {
			proxyConfig.ResponseModifier = originConfig.Rules.Apply
		}
		server := proxy.New(proxyConfig)
		servers = append(servers, server)
		if len(originConfig.Hosts) == 0 {
			router.fallback = server
		}
		for _, host := range originConfig.Hosts {
			router.byHost[host] = server
		}
	}
	return router, servers, nil
}

// hostRouter routes requests to origins based on the request host.
type hostRouter struct {
	byHost   map[string]http.Handler
	fallback http.Handler
}

func (h hostRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if hostOnly, _, err := net.SplitHostPort(r.Host); err == nil {
		host = hostOnly
	}
	if handler, ok := h.byHost[host]; ok {
		handler.ServeHTTP(w, r)
		return
	}
	if h.fallback != nil {
		h.fallback.ServeHTTP(w, r)
		return
	}
	http.Error(w, "unknown host", http.StatusMisdirectedRequest)
}

// cachedTransport returns a transport that dials origins through the
// caching resolver.
func cachedTransport(resolver *dnscache.Resolver) http.RoundTripper {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var conn net.Conn
			for _, ip := range ips {
				var dialer net.Dialer
				conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, err
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

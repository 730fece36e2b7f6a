package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sorz/moproxy-go/internal/api"
	"github.com/sorz/moproxy-go/internal/config"
	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/dispatch"
	"github.com/sorz/moproxy-go/internal/monitor"
	"github.com/sorz/moproxy-go/internal/policy"
)

func main() {
	var (
		listenPorts    = flag.String("listen-ports", "", "comma-separated TCP listen ports (required)")
		serversPath    = flag.String("servers", "", "upstream list file")
		policyPath     = flag.String("policy", "", "policy ruleset file")
		allowDirect    = flag.Bool("allow-direct", false, "permit direct connection as a last resort")
		remoteDNS      = flag.Bool("remote-dns", false, "peek TLS SNI on port 443 and allow early-data races")
		nParallel      = flag.Int("n-parallel", 1, "hedged race pool width")
		probeSecs      = flag.Int("probe-secs", 30, "health probe interval in seconds (0 disables)")
		defaultMaxWait = flag.Int("max-wait-secs", 3, "default per-upstream handshake timeout in seconds")
		defaultTestDNS = flag.String("test-dns", "8.8.8.8:53", "default alive-test DNS target")
		apiListen      = flag.String("api-listen", api.DefaultAddress, "status HTTP API bind address")
		promListen     = flag.String("prom-listen", "", "Prometheus /metrics bind address (disabled if empty)")
		graphiteAddr   = flag.String("graphite-addr", "", "Graphite carbon-cache address (disabled if empty)")
		graphitePrefix = flag.String("graphite-prefix", "moproxy", "dotted path prefix for Graphite metrics")
		shutdownSecs   = flag.Int("shutdown-secs", 5, "graceful shutdown timeout in seconds")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	log.Logger = logger

	if *listenPorts == "" {
		logger.Fatal().Msg("relay: -listen-ports is required")
	}
	ports, err := parseListenPorts(*listenPorts)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: invalid -listen-ports")
	}

	listenPortSet := make(map[uint16]struct{}, len(ports))
	for _, p := range ports {
		listenPortSet[p] = struct{}{}
	}

	serverCfg := config.ServerListConfig{
		Path:           *serversPath,
		DefaultTestDNS: *defaultTestDNS,
		DefaultMaxWait: time.Duration(*defaultMaxWait) * time.Second,
		ListenPorts:    listenPortSet,
		AllowDirect:    *allowDirect,
	}
	upstreams, err := serverCfg.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: loading upstream list")
	}
	pol, err := config.LoadPolicy(*policyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: loading policy file")
	}
	polHolder := policy.NewHolder(pol)

	servers := core.NewServerList(upstreams)
	lifecycle := core.NewLifecycle()

	mon := monitor.NewMonitor(servers, time.Duration(*probeSecs)*time.Second, logger.With().Str("component", "monitor").Logger())
	if *graphiteAddr != "" {
		mon.Graphite = monitor.NewGraphiteEmitter(*graphiteAddr, *graphitePrefix)
	}

	disp := dispatch.NewDispatcher(servers, polHolder, dispatch.Config{
		RemoteDNS:   *remoteDNS,
		NParallel:   *nParallel,
		AllowDirect: *allowDirect,
	}, logger.With().Str("component", "dispatch").Logger())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("relay: monitor stopped unexpectedly")
		}
	}()

	listeners := make([]*net.TCPListener, 0, len(ports))
	for _, port := range ports {
		ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: int(port)})
		if err != nil {
			logger.Fatal().Err(err).Uint16("port", port).Msg("relay: listen failed")
		}
		listeners = append(listeners, ln)
		wg.Add(1)
		go func(ln *net.TCPListener, port uint16) {
			defer wg.Done()
			serveListener(ctx, ln, port, disp, logger)
		}(ln, port)
	}

	if err := lifecycle.SetAgentState(core.StateActive); err != nil {
		logger.Warn().Err(err).Msg("relay: lifecycle transition failed")
	}

	apiSrv := api.NewServer(lifecycle, servers, mon.Meter, api.ServerOptions{
		Addr:            *apiListen,
		ShutdownTimeout: time.Duration(*shutdownSecs) * time.Second,
		Logger:          logger.With().Str("component", "api").Logger(),
	})
	apiSrv.Start()

	var promSrv *http.Server
	if *promListen != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(monitor.NewPromCollector(servers, lifecycle, mon.Meter))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		promSrv = &http.Server{Addr: *promListen, Handler: mux}
		go func() {
			logger.Info().Str("addr", *promListen).Msg("relay: prometheus listening")
			if err := promSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("relay: prometheus server error")
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			reload(serverCfg, *policyPath, servers, polHolder, mon, logger)
			continue
		}
		logger.Info().Str("signal", sig.String()).Msg("relay: shutting down")
		break
	}

	_ = lifecycle.SetAgentState(core.StateStopping)
	cancel()
	for _, ln := range listeners {
		_ = ln.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(*shutdownSecs)*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("relay: api shutdown error")
	}
	if promSrv != nil {
		if err := promSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("relay: prometheus shutdown error")
		}
	}

	wg.Wait()
	_ = lifecycle.SetAgentState(core.StateInactive)
	logger.Info().Msg("relay: stopped")
}

// serveListener accepts connections on ln, dispatching each on its own
// goroutine, until ctx is cancelled or Accept fails.
func serveListener(ctx context.Context, ln *net.TCPListener, port uint16, disp *dispatch.Dispatcher, logger zerolog.Logger) {
	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Uint16("port", port).Msg("relay: accept failed")
			continue
		}
		go func() {
			if err := disp.Serve(ctx, conn, port); err != nil {
				kind, _ := core.KindOf(err)
				logger.Debug().Err(err).Str("kind", string(kind)).Uint16("port", port).Msg("relay: connection ended")
			}
		}()
	}
}

// reload re-reads the upstream list and policy file and, for any upstream
// present under the same Identity both before and after, carries its
// Status forward so counters and score history survive the reload (§4.3,
// §4.7). The Meter is rebuilt from scratch over the new upstream set
// since its sliding windows are keyed by tag and hold no history worth
// preserving across a reload. The new Policy is published to pol by
// swapping its held pointer rather than overwriting the struct in place,
// so a Dispatcher goroutine concurrently calling pol.Current().Match
// always sees a complete, consistent Policy. A reload that fails to parse
// leaves the running configuration untouched (§7: "reload errors do not
// replace the running configuration").
func reload(cfg config.ServerListConfig, policyPath string, servers *core.ServerList, pol *policy.Holder, mon *monitor.Monitor, logger zerolog.Logger) {
	next, err := cfg.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("relay: reload: server list reload failed, keeping previous configuration")
		return
	}
	newPolicy, err := config.LoadPolicy(policyPath)
	if err != nil {
		logger.Warn().Err(err).Msg("relay: reload: policy reload failed, keeping previous configuration")
		return
	}

	prevByIdentity := make(map[core.Identity]*core.Upstream, len(servers.Servers()))
	for _, u := range servers.Servers() {
		prevByIdentity[u.Identity()] = u
	}
	for _, u := range next {
		if prev, ok := prevByIdentity[u.Identity()]; ok {
			u.Status.ReplaceFrom(prev.Status)
		}
	}

	servers.Replace(next)
	pol.Store(newPolicy)
	mon.Meter.Reset()
	logger.Info().Int("upstreams", len(next)).Msg("relay: reloaded")
}

func parseListenPorts(raw string) ([]uint16, error) {
	fields := strings.Split(raw, ",")
	ports := make([]uint16, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return nil, err
		}
		ports = append(ports, uint16(n))
	}
	return ports, nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"aging.ai/internal/diag"
	"aging.ai/internal/persistence/assets"
	"aging.ai/internal/persistence/indexdb"
	persistlog "aging.ai/internal/persistence/log"
	"aging.ai/internal/sim/catalogs"
	"aging.ai/internal/sim/tuning"
	"aging.ai/internal/transport/ws"
)

// envConfig holds environment overrides. Flags cover everything else.
type envConfig struct {
	IndexBackend    string `env:"AGING_INDEX_BACKEND" envDefault:"sqlite"`
	AllowOrigin     string `env:"AGING_ALLOW_ORIGIN"`
	MinLogLevel     string `env:"AGING_MIN_LOG_LEVEL"`
	EnableAdminHTTP *bool  `env:"AGING_ENABLE_ADMIN_HTTP"`
	EnablePprofHTTP bool   `env:"AGING_ENABLE_PPROF_HTTP" envDefault:"false"`
	DeployEnv       string `env:"DEPLOY_ENV"`
}

func loadEnv() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return envConfig{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.IndexBackend = strings.ToLower(strings.TrimSpace(cfg.IndexBackend))
	return cfg, nil
}

func (c envConfig) adminHTTP() bool {
	if c.EnableAdminHTTP != nil {
		return *c.EnableAdminHTTP
	}
	switch strings.ToLower(strings.TrimSpace(c.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		portraits  = flag.String("portraits", "", "portrait asset root (default: tuning portraits.dir)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (sessions, age changes, portrait misses)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	ecfg, err := loadEnv()
	if err != nil {
		logger.Fatalf("%v", err)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	minLevel := tune.MinLevel()
	if ecfg.MinLogLevel != "" {
		lvl, ok := diag.ParseLevel(ecfg.MinLogLevel)
		if !ok {
			logger.Fatalf("unknown AGING_MIN_LOG_LEVEL: %s", ecfg.MinLogLevel)
		}
		minLevel = lvl
	}

	portraitRoot := strings.TrimSpace(*portraits)
	if portraitRoot == "" {
		portraitRoot = tune.Portraits.Dir
	}
	store := assets.NewFSStore(portraitRoot, tune.Portraits.Ext)

	diagLog := persistlog.NewDiagLogger(diagnosticsDir(tune, *dataDir), minLevel)
	defer diagLog.Close()
	ageLog := persistlog.NewAgeEventLogger(filepath.Join(*dataDir, "ages"))
	defer ageLog.Close()

	// Optional: read-model index backend (never read back when aging).
	idx, err := openRuntimeIndex(*dataDir, ecfg.IndexBackend, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	wsCfg := ws.Config{
		Catalog:       &cats.Ages,
		DaysPerSeason: tune.DaysPerSeason,
		Assets:        store,
		Diag:          diagLog,
		MinLevel:      minLevel,
		AgeEvents:     ageLog,
		CheckOrigin:   originChecker(ecfg.AllowOrigin),
	}
	if idx != nil {
		wsCfg.Index = idx
	}
	hostSrv := ws.NewServer(wsCfg, logger)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, hostSrv.Metrics(), cats.Ages.Len(), idx)
	})

	if ecfg.adminHTTP() {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				CatalogDigest string        `json:"catalog_digest"`
				Catalog       int           `json:"catalog"`
				Tuning        tuning.Tuning `json:"tuning"`
				Metrics       ws.Metrics    `json:"metrics"`
				Index         indexdb.Stats `json:"index"`
			}{
				CatalogDigest: cats.Ages.Digest,
				Catalog:       cats.Ages.Len(),
				Tuning:        tune,
				Metrics:       hostSrv.Metrics(),
			}
			if idx != nil {
				resp.Index = idx.Stats()
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Printf("admin endpoints disabled (AGING_ENABLE_ADMIN_HTTP=false)")
	}
	if ecfg.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/host", hostSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (catalog=%d digest=%s portraits=%s)", *addr, cats.Ages.Len(), shortDigest(cats.Ages.Digest), store.Root())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func diagnosticsDir(tune tuning.Tuning, dataDir string) string {
	if dir := strings.TrimSpace(tune.Diagnostics.Dir); dir != "" {
		return dir
	}
	return filepath.Join(dataDir, "diagnostics")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// originChecker allows every origin when allow is empty, otherwise only the
// comma-separated list.
func originChecker(allow string) func(r *http.Request) bool {
	allowed := map[string]bool{}
	for _, o := range strings.Split(allow, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

func writeMetrics(w io.Writer, m ws.Metrics, catalogSize int, idx runtimeIndex) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(w, "# HELP aging_host_sessions Current number of connected host sessions.\n")
	fmt.Fprintf(w, "# TYPE aging_host_sessions gauge\n")
	fmt.Fprintf(w, "aging_host_sessions %d\n", m.Sessions)

	fmt.Fprintf(w, "# HELP aging_host_sessions_total Total host sessions accepted.\n")
	fmt.Fprintf(w, "# TYPE aging_host_sessions_total counter\n")
	fmt.Fprintf(w, "aging_host_sessions_total %d\n", m.SessionsTotal)

	fmt.Fprintf(w, "# HELP aging_catalog_entries Ageable identities in the catalog.\n")
	fmt.Fprintf(w, "# TYPE aging_catalog_entries gauge\n")
	fmt.Fprintf(w, "aging_catalog_entries %d\n", catalogSize)

	fmt.Fprintf(w, "# HELP aging_updates_total Age updates pushed to hosts.\n")
	fmt.Fprintf(w, "# TYPE aging_updates_total counter\n")
	fmt.Fprintf(w, "aging_updates_total{reason=%q} %d\n", "birthday", m.BirthdaysTotal)
	fmt.Fprintf(w, "aging_updates_total{reason=%q} %d\n", "session_loaded", m.UpdatesTotal-m.BirthdaysTotal)

	fmt.Fprintf(w, "# HELP aging_portrait_misses_total Updates whose milestone portrait was missing.\n")
	fmt.Fprintf(w, "# TYPE aging_portrait_misses_total counter\n")
	fmt.Fprintf(w, "aging_portrait_misses_total %d\n", m.MissesTotal)

	fmt.Fprintf(w, "# HELP aging_protocol_errors_total ERROR messages sent to hosts.\n")
	fmt.Fprintf(w, "# TYPE aging_protocol_errors_total counter\n")
	fmt.Fprintf(w, "aging_protocol_errors_total %d\n", m.ErrorsTotal)

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(w, "# HELP aging_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(w, "# TYPE aging_index_queue_depth gauge\n")
	fmt.Fprintf(w, "aging_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP aging_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(w, "# TYPE aging_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "aging_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP aging_index_dropped_total Index records dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE aging_index_dropped_total counter\n")
	fmt.Fprintf(w, "aging_index_dropped_total{kind=%q} %d\n", "session", s.DropSessionTotal)
	fmt.Fprintf(w, "aging_index_dropped_total{kind=%q} %d\n", "updates", s.DropUpdateTotal)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Package main implements the clone/recover engine process entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/curve-cloneadm/clone-engine/pkg/cloneengine"
	"github.com/curve-cloneadm/clone-engine/pkg/frontend"
	"github.com/curve-cloneadm/clone-engine/pkg/wsvolume"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	listenAddr    = flag.String("listen-addr", ":9090", "Address for the reference HTTP front end")
	metricsAddr   = flag.String("metrics-addr", ":8080", "Address to expose Prometheus metrics")
	volumeURL     = flag.String("volume-url", "", "Volume service WebSocket URL (e.g., ws://10.10.20.100/api/v1/volume)")
	cloneTempDir  = flag.String("clone-temp-dir", "/var/lib/clone-engine/tmp", "Temporary directory for in-progress clone files")
	chunkSplit    = flag.Uint64("clone-chunk-split-size", 4194304, "Recovery stripe size RecoverChunk divides each chunk into")
	dialRetries   = flag.Int("volume-dial-retries", 5, "Number of connection attempts to the volume service at startup")
	showVersion   = flag.Bool("show-version", false, "Show version and exit")
	debug         = flag.Bool("debug", false, "Enable debug logging (equivalent to -v=4)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *debug || os.Getenv("DEBUG_CLONE_ENGINE") == "true" || os.Getenv("DEBUG_CLONE_ENGINE") == "1" {
		if err := flag.Set("v", "4"); err != nil {
			klog.Warningf("Failed to set verbosity level: %v", err)
		}
	}

	if *showVersion {
		fmt.Printf("clone-engine version: %s\n", version)
		fmt.Printf("  Git commit: %s\n", gitCommit)
		fmt.Printf("  Build date: %s\n", buildDate)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *volumeURL == "" {
		klog.Fatal("Volume service URL must be provided (-volume-url)")
	}
	if *chunkSplit == 0 {
		klog.Fatal("-clone-chunk-split-size must be >0")
	}

	klog.Infof("Starting clone-engine %s (commit: %s, built: %s)", version, gitCommit, buildDate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	volumeClient, err := wsvolume.DialWithRetry(ctx, *volumeURL, *dialRetries)
	if err != nil {
		klog.Fatalf("Failed to connect to volume service: %v", err)
	}
	defer volumeClient.Close()

	// The snapshot and task metadata stores are owned by the volume
	// service's control plane and out of scope; the
	// in-memory fakes stand in so the engine has a runnable backing store
	// until a real implementation is wired in.
	engine := cloneengine.NewEngine(
		cloneengine.Config{CloneTempDir: *cloneTempDir, CloneChunkSplitSize: *chunkSplit},
		volumeClient,
		cloneengine.NewFakeSnapshotMetaStore(),
		cloneengine.NewFakeSnapshotDataStore(),
		cloneengine.NewFakeTaskMetaStore(),
	)

	if err := engine.ResumeAll(ctx); err != nil {
		klog.Errorf("ResumeAll failed: %v", err)
	}

	metricsSrv := &http.Server{
		Addr:              *metricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		klog.Infof("metrics listening on %s", *metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Errorf("metrics server stopped: %v", err)
		}
	}()

	front := frontend.NewServer(frontend.Config{Addr: *listenAddr}, engine)
	go func() {
		if err := front.ListenAndServe(); err != nil {
			klog.Errorf("front end stopped: %v", err)
		}
	}()

	<-ctx.Done()
	klog.Info("shutting down clone-engine")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := front.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("front end shutdown error: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("metrics server shutdown error: %v", err)
	}
}

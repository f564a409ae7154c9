package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/internal/endpoint"
	"github.com/example/o2c-lite/internal/observability"
	grpcTransport "github.com/example/o2c-lite/internal/transport/grpc"
	"github.com/example/o2c-lite/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC and HTTP servers with the job dispatcher",
	Long: `Start the order desk.

Listeners (empty address disables one):
  server.grpc_addr   gRPC OrderDesk service      (default :50051)
  server.http_addr   JSON API and index page     (default :8080)
  server.debug_addr  /metrics and /debug/pprof/  (default :6060)

The job dispatcher runs supplier reorders and expires stale quotes in the
background.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	log.Printf("serve: storage %s (%s), classifier %s", cfg.Storage.Path, a.store.Driver(), cfg.Classifier.Provider)

	if addr := cfg.Server.DebugAddr; addr != "" {
		go func() {
			log.Printf("serve: debug server on %s (pprof + metrics)", addr)
			if err := http.ListenAndServe(addr, debugMux(a.metrics)); err != nil {
				log.Printf("serve: debug server error: %v", err)
			}
		}()
	}

	log.Println("serve: starting dispatcher")
	a.dispatcher.Start()

	var webServer *http.Server
	if addr := cfg.Server.HTTPAddr; addr != "" {
		webServer = &http.Server{
			Addr:              addr,
			Handler:           web.NewServer(addr, a.orchestrator).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("serve: web API on %s", addr)
			if err := webServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("serve: web server error: %v", err)
			}
		}()
	}

	grpcServer := grpcTransport.NewServer(endpoint.MakeEndpoints(a.orchestrator))
	errCh := make(chan error, 1)
	if addr := cfg.Server.GRPCAddr; addr != "" {
		go func() {
			log.Printf("serve: gRPC OrderDesk on %s", addr)
			errCh <- grpcServer.Serve(addr)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("serve: received %s, shutting down", sig)
	case err = <-errCh:
		log.Printf("serve: gRPC server stopped: %v", err)
	}

	// Stop intake first, then drain background jobs.
	grpcServer.GracefulStop()
	if webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := webServer.Shutdown(ctx); err != nil {
			log.Printf("serve: web shutdown: %v", err)
		}
		cancel()
	}
	log.Println("serve: stopping dispatcher")
	a.dispatcher.Stop()
	return err
}

func debugMux(metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Command flowengine is the service entry point: it wires the core
// engine, function registry and BoltDB definition store into an HTTP
// surface for loading, listing, running and cancelling workflows.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/flowengine/builtins"
	"github.com/swarmguard/flowengine/config"
	"github.com/swarmguard/flowengine/engine"
	"github.com/swarmguard/flowengine/internal/obs"
	"github.com/swarmguard/flowengine/internal/store"
)

type runRequest struct {
	Workflow    string         `json:"workflow"`
	Overrides   map[string]any `json:"overrides"`
	ExecutionID string         `json:"execution_id"`
}

type cancelRequest struct {
	ExecutionID string `json:"execution_id"`
}

func main() {
	service := "flowengine"
	obs.InitLogging(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := obs.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := obs.InitMetrics(ctx, service)

	dbPath := os.Getenv("FLOWENGINE_DB_PATH")
	if dbPath == "" {
		dbPath = "flowengine.db"
	}
	defStore, err := store.Open(dbPath, otel.Meter("flowengine-store"))
	if err != nil {
		slog.Error("failed to open definition store", "error", err)
		os.Exit(1)
	}
	defer defStore.Close()

	eng := engine.New()
	builtins.Register(eng.FunctionRegistry())

	for _, name := range defStore.ListWorkflows(ctx) {
		desc, found, err := defStore.GetWorkflow(ctx, name)
		if err != nil || !found {
			continue
		}
		if _, err := eng.Load(desc, name); err != nil {
			slog.Warn("failed to reload persisted workflow", "workflow", name, "error", err)
		}
	}

	meter := otel.Meter("flowengine-http")
	runCounter, _ := meter.Int64Counter("flowengine_http_run_requests_total")
	runErrors, _ := meter.Int64Counter("flowengine_http_run_errors_total")
	runLatency, _ := meter.Float64Histogram("flowengine_http_run_duration_ms")

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promHandler)

	mux.HandleFunc("/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}
			desc, err := config.Parse(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			name, err := eng.Load(desc, "")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := defStore.PutWorkflow(r.Context(), name, desc); err != nil {
				slog.Error("failed to persist workflow definition", "workflow", name, "error", err)
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"name": name})

		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"workflows": eng.ListWorkflows()})

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		start := time.Now()
		result, err := eng.Run(r.Context(), req.Workflow, req.Overrides, req.ExecutionID)
		attrs := metric.WithAttributes(attribute.String("workflow", req.Workflow))
		runLatency.Record(r.Context(), float64(time.Since(start).Milliseconds()), attrs)
		if err != nil {
			runErrors.Add(r.Context(), 1, attrs)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		runCounter.Add(r.Context(), 1, attrs)
		_ = json.NewEncoder(w).Encode(result)
	})

	mux.HandleFunc("/v1/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		ok := eng.Cancel(req.ExecutionID)
		if !ok {
			http.Error(w, "no such execution", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	addr := os.Getenv("FLOWENGINE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()
	slog.Info("flowengine service started", "addr", addr)

	<-ctx.Done()
	slog.Info("shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = srv.Shutdown(ctxSd)
	obs.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}

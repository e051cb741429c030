package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type goldenSample struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

var goldens = []goldenSample{
	{Input: "sample-benign-1", Expected: "benign"},
	{Input: "sample-benign-2", Expected: "benign"},
	{Input: "sample-malware-1", Expected: "malware"},
	{Input: "sample-suspicious-1", Expected: "suspicious"},
}

// degraded flips the mock into a failure mode so remediation paths can be
// exercised locally. POST /api/v1/admin/restart flips it back.
var degraded atomic.Bool

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/infer", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if degraded.Load() {
			time.Sleep(time.Duration(600+rand.Intn(400)) * time.Millisecond)
		}
		writeJSON(w, map[string]any{
			"label":         classify(req.Input),
			"model_version": "v1.2.3",
			"latency_ms":    5 + rand.Float64()*20,
		})
	})

	mux.HandleFunc("/api/v1/golden", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"samples": goldens})
	})

	mux.HandleFunc("/api/v1/resources", func(w http.ResponseWriter, r *http.Request) {
		cpu := 35 + rand.Float64()*20
		mem := 45 + rand.Float64()*15
		if degraded.Load() {
			cpu += 50
		}
		writeJSON(w, map[string]float64{"cpu_util": cpu, "memory_util": mem})
	})

	mux.HandleFunc("/api/v1/distributions", func(w http.ResponseWriter, r *http.Request) {
		baseline := make([]float64, 50)
		current := make([]float64, 50)
		shift := 0.0
		if degraded.Load() {
			shift = 0.4
		}
		for i := range baseline {
			baseline[i] = rand.NormFloat64()*0.1 + 0.5
			current[i] = rand.NormFloat64()*0.1 + 0.5 + shift
		}
		writeJSON(w, map[string][]float64{"baseline": baseline, "current": current})
	})

	mux.HandleFunc("/api/v1/admin/restart", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		degraded.Store(false)
		writeJSON(w, map[string]any{"restarted": true, "service": "inference"})
	})

	mux.HandleFunc("/api/v1/admin/clear_cache", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"cleared": true})
	})

	mux.HandleFunc("/api/v1/admin/rollback_model", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			TargetVersion string `json:"target_version"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		degraded.Store(false)
		writeJSON(w, map[string]any{"rolled_back": true, "model_version": req.TargetVersion})
	})

	// Flips the mock into degraded mode to trigger failing checks.
	mux.HandleFunc("/api/v1/admin/degrade", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		degraded.Store(true)
		writeJSON(w, map[string]any{"degraded": true})
	})

	logger := log.New(log.Writer(), "pipeline-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func classify(input string) string {
	switch {
	case degraded.Load():
		// A degraded model answers benign for everything.
		return "benign"
	case strings.Contains(input, "malware"):
		return "malware"
	case strings.Contains(input, "suspicious"):
		return "suspicious"
	default:
		return "benign"
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

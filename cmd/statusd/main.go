// Command statusd serves a read-only HTTP view over the per-phase status
// files internal/telemetry writes, for an external monitor to poll instead
// of reading the status directory directly off disk.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datagen24/cowrieprocessor/internal/auth"
	"github.com/datagen24/cowrieprocessor/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags)

	cfg := config.LoadFromEnv()

	r := chi.NewRouter()
	r.Get("/healthz", healthzHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(cfg.StatusJWTHMAC))
		r.Get("/status", listStatusHandler(cfg.StatusDir))
		r.Get("/status/{phase}", phaseStatusHandler(cfg.StatusDir))
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("statusd: listening on %s, status dir %s", cfg.ListenAddr, cfg.StatusDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("statusd: %v", err)
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// listStatusHandler returns the set of phases with a status file on disk.
func listStatusHandler(statusDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := os.ReadDir(statusDir)
		if err != nil {
			http.Error(w, "status directory unavailable", http.StatusInternalServerError)
			return
		}

		phases := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			phases = append(phases, strings.TrimSuffix(e.Name(), ".json"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{"phases": phases})
	}
}

// phaseStatusHandler serves one phase's status file verbatim.
func phaseStatusHandler(statusDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phase := chi.URLParam(r, "phase")
		if phase == "" || strings.ContainsAny(phase, "/\\") {
			http.Error(w, "invalid phase", http.StatusBadRequest)
			return
		}

		path := filepath.Join(statusDir, phase+".json")
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			http.Error(w, "unknown phase", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "read status file", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	}
}

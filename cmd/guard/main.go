// Package main implements the nonce guard service, which exposes the
// orderless-transaction replay decisions over HTTP to a validation pipeline
// running in another process.
//
// HTTP API:
//
//	POST /admit    - record (sender, nonce); accepted=false means replay
//	POST /check    - read-only lookup; accepted=false means already seen
//	POST /buckets  - provision the next sequential bucket
//	GET  /stats    - history statistics
//	GET  /health   - liveness
//
// Configuration comes from GUARD_* environment variables and an optional
// YAML file named by GUARD_CONFIG (see internal/config).
//
// Example usage:
//
//	GUARD_LISTEN=:8090 GUARD_CHECKPOINT_PATH=/var/lib/guard/nonces.db ./guard
//
//	curl -X POST localhost:8090/admit \
//	  -d '{"sender":"0x5000000000000000000000000000000000000005","nonce":7,"expiration":1760600000}'
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/orderless/internal/api"
	"github.com/dreamware/orderless/internal/config"
	"github.com/dreamware/orderless/internal/replay"
	"github.com/dreamware/orderless/internal/storage"
	"github.com/dreamware/orderless/internal/txn"
)

// exit is a variable so tests can intercept fatal start-up errors
var exit = os.Exit

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		os.Stderr.WriteString("guard: " + err.Error() + "\n")
		exit(1)
		return
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		os.Stderr.WriteString("guard: " + err.Error() + "\n")
		exit(1)
		return
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("guard failed", zap.Error(err))
		exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	history, store, err := openHistory(loadCtx, cfg, nil, logger)
	cancelLoad()
	if err != nil {
		return err
	}

	var checkpointer *replay.Checkpointer
	if store != nil {
		defer store.Close()
		checkpointer = replay.NewCheckpointer(history, store, cfg.CheckpointInterval, logger)
		go checkpointer.Start(context.Background())
	}

	srv := newServer(history, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("guard listening", zap.String("addr", cfg.Listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err = <-errCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	if checkpointer != nil {
		if cerr := checkpointer.Stop(); cerr != nil {
			logger.Error("final checkpoint failed", zap.Error(cerr))
		}
	}
	logger.Info("guard stopped")
	return err
}

// openHistory builds the nonce history, restores the last checkpoint when one
// is configured and then provisions buckets. Restoring must happen first:
// Restore refuses a history that already holds buckets. The returned store is
// nil when checkpointing is disabled.
func openHistory(ctx context.Context, cfg config.Config, clock replay.Clock, logger *zap.Logger) (*replay.NonceHistory, *storage.SQLiteCheckpoint, error) {
	history, err := replay.NewNonceHistory(cfg.History(clock, logger))
	if err != nil {
		return nil, nil, err
	}

	var store *storage.SQLiteCheckpoint
	if cfg.CheckpointPath != "" {
		store, err = storage.OpenSQLite(cfg.CheckpointPath)
		if err != nil {
			return nil, nil, err
		}
		if err := replay.LoadCheckpoint(ctx, history, store); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	history.Initialize()

	st := history.Stats()
	logger.Info("nonce history ready",
		zap.Uint32("num_buckets", history.NumBuckets()),
		zap.Int("buckets", st.Buckets),
		zap.Uint32("next_key", st.NextKey),
		zap.Bool("checkpointing", store != nil))
	return history, store, nil
}

type server struct {
	history *replay.NonceHistory
	logger  *zap.Logger
}

func newServer(history *replay.NonceHistory, logger *zap.Logger) *server {
	return &server{history: history, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admit", s.handleAdmit)
	mux.HandleFunc("/check", s.handleCheck)
	mux.HandleFunc("/buckets", s.handleBuckets)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, "admit", s.history.Admit)
}

func (s *server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, "check", s.history.Check)
}

// decide decodes a NonceRequest, runs fn on it and writes the decision
func (s *server) decide(w http.ResponseWriter, r *http.Request, op string, fn func(env txn.Envelope) bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}

	var req api.NonceRequest
	if err := api.Decode(r.Body, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	env, err := req.Envelope()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	accepted := fn(env)
	if !accepted {
		s.logger.Debug("nonce rejected",
			zap.String("op", op),
			zap.String("request_id", reqID),
			zap.Stringer("envelope", env))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", reqID)
	_ = api.Encode(w, api.DecisionResponse{RequestID: reqID, Accepted: accepted})
}

func (s *server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idx, created := s.history.AddNonceBucket()
	if created {
		s.logger.Info("bucket provisioned", zap.Uint32("bucket", idx))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = api.Encode(w, api.ProvisionResponse{Index: idx, Created: created})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.history.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = api.Encode(w, api.StatsResponse{
		Buckets:    st.Buckets,
		Keys:       st.Keys,
		NextKey:    st.NextKey,
		NumBuckets: st.NumBuckets,
		Accepted:   st.Accepted,
		Duplicates: st.Duplicates,
		CrossHits:  st.CrossHits,
		Wipes:      st.Wipes,
	})
}

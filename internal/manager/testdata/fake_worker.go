package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

type predictRequest struct {
	Input  []byte         `json:"input"`
	Params map[string]any `json:"params"`
}

func main() {
	var model, task, device, host, port, attention string
	var fp16, eval bool
	// Accept the flags the worker loader passes.
	flag.StringVar(&model, "model", "", "model path")
	flag.StringVar(&task, "task", "", "model type")
	flag.StringVar(&device, "device", "cpu", "device")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.StringVar(&attention, "attention", "", "attention implementation")
	flag.BoolVar(&fp16, "fp16", false, "half precision")
	flag.BoolVar(&eval, "eval", false, "eval mode")
	flag.Parse()

	if os.Getenv("FAKE_WORKER_EXIT") != "" {
		fmt.Fprintln(os.Stderr, "failed to open weights:", model)
		os.Exit(1)
	}
	mem, _ := strconv.ParseUint(os.Getenv("FAKE_WORKER_MEMORY"), 10, 64)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "memory_bytes": mem})
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if string(req.Input) == "fail" {
			http.Error(w, "synthetic failure", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": task + ":" + string(req.Input),
			"meta": map[string]any{"device": device, "fp16": fp16, "attention": attention, "eval": eval},
		})
	})

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for SIGTERM then shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

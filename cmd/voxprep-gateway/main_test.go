package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/gateway/config"
	gatewayserver "github.com/voxprep/voxprep/pkg/gateway/server"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger, deps gatewayserver.Dependencies) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestLoadGraph_DefaultAndFile(t *testing.T) {
	g, err := loadGraph(config.Config{})
	if err != nil {
		t.Fatalf("default graph: %v", err)
	}
	if g.Len() == 0 {
		t.Fatal("default graph is empty")
	}

	path := filepath.Join(t.TempDir(), "graph.yaml")
	custom := "start: a\nnodes:\n  - id: a\n    prompt: \"Only question.\"\n"
	if err := os.WriteFile(path, []byte(custom), 0o600); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	g, err = loadGraph(config.Config{QuestionGraphPath: path})
	if err != nil {
		t.Fatalf("file graph: %v", err)
	}
	if g.Len() != 1 || g.Start() != "a" {
		t.Fatalf("graph len=%d start=%q", g.Len(), g.Start())
	}

	if _, err := loadGraph(config.Config{QuestionGraphPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected error for missing graph file")
	}
}

func TestRunGateway_MissingDependencies(t *testing.T) {
	t.Parallel()

	err := runGateway(context.Background(), nil, gatewayDeps{})
	if err == nil {
		t.Fatal("expected error for empty deps")
	}
}

package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	logx "medtrack/pkg/logx"
)

func okHandler(ServerConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, okHandler, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	select {
	case <-s.Bound():
	case <-time.After(5 * time.Second):
		t.Fatalf("server never bound")
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatalf("Addr empty after bind")
	}

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Supervisor() != nil {
		t.Fatalf("supervisor still set after Stop")
	}
	if s.Addr() != "" {
		t.Fatalf("Addr = %q after Stop", s.Addr())
	}
}

func TestServerRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Enabled: true, Addr: "0.0.0.0:0"}, okHandler, logx.Nop())
	err := s.serveOnce(context.Background())
	if err == nil {
		t.Fatalf("expected refusal for tokenless non-loopback bind")
	}
}

func TestServerDisabledStartIsNoop(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Enabled: false}, okHandler, logx.Nop())
	s.Start(context.Background())
	if s.Supervisor() != nil {
		t.Fatalf("disabled server started a supervisor")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}

//go:build linux

// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loopback tests of the full reactor + worker pipeline.

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func docRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(name, content string) {
		p := filepath.Join(root, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		os.Chmod(p, 0o644)
	}
	write("index.html", "<html>index</html>")
	write("a.txt", "alpha")
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.Chmod(filepath.Join(root, "sub"), 0o755)
	return root
}

// startServer runs a server on an ephemeral loopback port until the test ends.
func startServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	base := []Option{WithAddr("127.0.0.1", 0), WithDocRoot(docRoot(t)), WithLogger(quietLogger())}
	s, err := New(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		if err := <-errc; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return s, s.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { c.Close() })
	return c
}

func get(t *testing.T, c net.Conn, br *bufio.Reader, path string, keepAlive bool) (*http.Response, string) {
	t.Helper()
	req := "GET " + path + " HTTP/1.1\r\nHost: test\r\n"
	if keepAlive {
		req += "Connection: keep-alive\r\n"
	}
	if _, err := io.WriteString(c, req+"\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	return readResponse(t, br)
}

func readResponse(t *testing.T, br *bufio.Reader) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeFile(t *testing.T) {
	s, addr := startServer(t)
	c := dial(t, addr)
	resp, body := get(t, c, bufio.NewReader(c), "/index.html", false)
	if resp.StatusCode != 200 || resp.ContentLength != int64(len("<html>index</html>")) || body != "<html>index</html>" {
		t.Fatalf("status=%d len=%d body=%q", resp.StatusCode, resp.ContentLength, body)
	}
	if !resp.Close {
		t.Fatal("expected Connection: close")
	}
	waitFor(t, "200 metric", func() bool {
		return testutil.ToFloat64(s.Metrics().Responses.WithLabelValues("200")) == 1
	})
}

func TestErrorStatuses(t *testing.T) {
	_, addr := startServer(t)
	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/missing", 404, "404\n"},
		{"/sub", 400, "Your request has bad syntax or is inherently impossible to satisfy.\n"},
		{"/index.html/x", 404, "404\n"},
	}
	for _, tc := range cases {
		c := dial(t, addr)
		resp, body := get(t, c, bufio.NewReader(c), tc.path, false)
		if resp.StatusCode != tc.status || body != tc.body {
			t.Errorf("%s: status=%d body=%q", tc.path, resp.StatusCode, body)
		}
	}
}

func TestKeepAliveThenClose(t *testing.T) {
	s, addr := startServer(t)
	c := dial(t, addr)
	br := bufio.NewReader(c)

	for i := 0; i < 2; i++ {
		resp, body := get(t, c, br, "/a.txt", true)
		if resp.StatusCode != 200 || body != "alpha" || resp.Close {
			t.Fatalf("round %d: status=%d body=%q close=%v", i, resp.StatusCode, body, resp.Close)
		}
	}
	resp, _ := get(t, c, br, "/a.txt", false)
	if !resp.Close {
		t.Fatal("final response should close")
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after close, got %v", err)
	}
	if got := testutil.ToFloat64(s.Metrics().Accepted); got != 1 {
		t.Fatalf("accepted = %v, want a single connection", got)
	}
}

func TestPipelinedRequests(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	req := "GET /a.txt HTTP/1.1\r\nConnection: keep-alive\r\n\r\n" +
		"GET /index.html HTTP/1.1\r\n\r\n"
	if _, err := io.WriteString(c, req); err != nil {
		t.Fatal(err)
	}
	br := bufio.NewReader(c)
	if _, body := readResponse(t, br); body != "alpha" {
		t.Fatalf("first body %q", body)
	}
	if _, body := readResponse(t, br); body != "<html>index</html>" {
		t.Fatalf("second body %q", body)
	}
}

func TestBusyWhenFull(t *testing.T) {
	s, addr := startServer(t, WithMaxConnections(1))
	_ = dial(t, addr)
	waitFor(t, "first connection", func() bool { return s.Stats().ActiveConns == 1 })

	c2 := dial(t, addr)
	got, err := io.ReadAll(c2)
	if err != nil {
		t.Fatalf("read busy reply: %v", err)
	}
	if string(got) != "Internal Server Busy" {
		t.Fatalf("busy reply = %q", got)
	}
	if v := testutil.ToFloat64(s.Metrics().Rejected); v != 1 {
		t.Fatalf("rejected = %v", v)
	}
}

func TestIdleEviction(t *testing.T) {
	s, addr := startServer(t, WithTimeSlot(50*time.Millisecond))
	c := dial(t, addr)
	waitFor(t, "accept", func() bool { return s.Stats().ActiveConns == 1 })

	start := time.Now()
	buf := make([]byte, 1)
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF from eviction, got %v", err)
	}
	if el := time.Since(start); el < 100*time.Millisecond {
		t.Fatalf("evicted after %v, before the idle timeout", el)
	}
	waitFor(t, "eviction metric", func() bool {
		return testutil.ToFloat64(s.Metrics().Evictions) == 1 && s.Stats().ActiveConns == 0
	})
}

func TestActivityRefreshesTimer(t *testing.T) {
	_, addr := startServer(t, WithTimeSlot(50*time.Millisecond))
	c := dial(t, addr)
	br := bufio.NewReader(c)
	// Each round trip lands well inside the 150ms idle window.
	for i := 0; i < 6; i++ {
		if resp, _ := get(t, c, br, "/a.txt", true); resp.StatusCode != 200 {
			t.Fatalf("round %d: status %d", i, resp.StatusCode)
		}
		time.Sleep(60 * time.Millisecond)
	}
}

func TestSaturatedQueue(t *testing.T) {
	s, addr := startServer(t, WithWorkers(1), WithMaxRequests(1), WithBacklog(64))
	const clients = 32
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()
			c.SetDeadline(time.Now().Add(10 * time.Second))
			if _, err := io.WriteString(c, "GET /a.txt HTTP/1.1\r\n\r\n"); err != nil {
				errs <- err
				return
			}
			resp, err := http.ReadResponse(bufio.NewReader(c), nil)
			if err != nil {
				errs <- err
				return
			}
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != 200 || string(body) != "alpha" {
				errs <- fmt.Errorf("status=%d body=%q", resp.StatusCode, body)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	waitFor(t, "all responses counted", func() bool {
		return testutil.ToFloat64(s.Metrics().Responses.WithLabelValues("200")) == clients
	})
}

func TestRunStopsOnContext(t *testing.T) {
	s, err := New(DefaultConfig(), WithAddr("127.0.0.1", 0), WithDocRoot(t.TempDir()), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	addr := s.Addr().String()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	c := dial(t, addr)
	waitFor(t, "accept", func() bool { return s.Stats().ActiveConns == 1 })
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := c.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("open connection not closed on shutdown: %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		t.Fatal("listener still accepting after shutdown")
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown after Run: %v", err)
	}
}

func TestShutdownWithoutRun(t *testing.T) {
	s, err := New(DefaultConfig(), WithAddr("127.0.0.1", 0), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	addr := s.Addr().String()
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		t.Fatal("listener left open")
	}
}

func TestAdminEndpoints(t *testing.T) {
	s, addr := startServer(t, WithAdminAddr("127.0.0.1:0"))
	c := dial(t, addr)
	get(t, c, bufio.NewReader(c), "/missing", false)

	admin := "http://" + s.AdminAddr()
	waitFor(t, "404 metric", func() bool {
		resp, err := http.Get(admin + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(b), `hioload_httpd_responses_total{code="404"} 1`)
	})

	resp, err := http.Get(admin + "/debug/state")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, key := range []string{`"pool"`, `"server"`, `"service"`, `"platform.cpus"`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("debug state missing %s: %s", key, b)
		}
	}
}

func TestHugeContentLengthAnswered(t *testing.T) {
	s, addr := startServer(t, WithTimeSlot(50*time.Millisecond))
	c := dial(t, addr)
	req := "GET /a.txt HTTP/1.1\r\nConnection: keep-alive\r\nContent-Length: 9223372036854775807\r\n\r\n"
	if _, err := io.WriteString(c, req); err != nil {
		t.Fatal(err)
	}
	br := bufio.NewReader(c)
	resp, _ := readResponse(t, br)
	if resp.StatusCode != 400 || !resp.Close {
		t.Fatalf("status=%d close=%v, want 400 and close", resp.StatusCode, resp.Close)
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	waitFor(t, "slot release", func() bool { return s.Stats().ActiveConns == 0 })
}

func TestHalfClosedClientAnswered(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	if _, err := io.WriteString(c, "GET /a.txt HTTP/1.1\r\n\r\n"); err != nil {
		t.Fatal(err)
	}
	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	resp, body := readResponse(t, bufio.NewReader(c))
	if resp.StatusCode != 200 || body != "alpha" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

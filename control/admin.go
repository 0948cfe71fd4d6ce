// control/admin.go
// Author: momentics <momentics@gmail.com>
//
// Admin HTTP listener exposing /metrics and /debug/state.

package control

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServer serves the control plane on its own listener, outside the reactor.
type AdminServer struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// NewAdminHandler builds the admin routes.
func NewAdminHandler(m *Metrics, dp *DebugProbes) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		body, err := dp.MarshalJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
	return mux
}

// StartAdmin listens on addr and serves in the background.
func StartAdmin(addr string, h http.Handler, logger *slog.Logger) (*AdminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	a := &AdminServer{
		srv: &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: logger.With("component", "admin"),
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin listener stopped", "err", err)
		}
	}()
	a.log.Info("admin listening", "addr", ln.Addr().String())
	return a, nil
}

// Addr is the bound address.
func (a *AdminServer) Addr() net.Addr { return a.ln.Addr() }

// Shutdown stops the admin listener.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

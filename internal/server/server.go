// Package server implements the introspection surface for the LDP
// daemon: read-only neighbor and pending-connection
// queries served over HTTP, alongside a ConnectRPC health handler.
//
// The daemon's own packet-I/O core (internal/ldp) has no generated
// protobuf service definitions available to this build (no buf/protoc
// codegen step runs as part of building this module), so the three
// read-only RPCs below are served as plain JSON over net/http rather
// than as a generated connect-go service; the health endpoint still
// runs on the real ConnectRPC/grpchealth stack, matching the
// mux/h2c/health wiring exactly.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"runtime"
	"time"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// Sentinel errors for the server package.
var (
	// ErrMissingAddress indicates no neighbor address was provided in a
	// GetNeighbor request.
	ErrMissingAddress = errors.New("address query parameter is required")

	// ErrNeighborNotFound indicates no neighbor matches the requested
	// address.
	ErrNeighborNotFound = errors.New("neighbor not found")

	// ErrInvalidAddress indicates the address query parameter could not
	// be parsed.
	ErrInvalidAddress = errors.New("invalid address")
)

// -------------------------------------------------------------------------
// Neighbor view — supplied by whatever external component owns full
// neighbor lifecycle (Hello/Init/label-binding state), since that state
// lives entirely outside internal/ldp.
// -------------------------------------------------------------------------

// NeighborSnapshot is the read-only view of one neighbor exposed over
// introspection.
type NeighborSnapshot struct {
	LSRID     uint32           `json:"lsr_id"`
	Address   netip.Addr       `json:"address"`
	State     ldp.NeighborState `json:"-"`
	StateName string           `json:"state"`
	MaxPDULen uint16           `json:"max_pdu_len"`
}

// NeighborSource enumerates and looks up neighbors for introspection.
// The concrete implementation is owned by whatever component manages
// full neighbor lifecycle; this package only consumes the interface.
type NeighborSource interface {
	ListNeighbors() []NeighborSnapshot
	FindNeighbor(addr netip.Addr) (NeighborSnapshot, bool)
}

// PendingConnSource enumerates the packet-I/O core's pending-connection
// table.
type PendingConnSource interface {
	PendingConnections() []ldp.PendingConnInfo
}

// -------------------------------------------------------------------------
// Server
// -------------------------------------------------------------------------

// Server implements the read-only introspection HTTP API.
type Server struct {
	neighbors NeighborSource
	pending   PendingConnSource
	logger    *slog.Logger
}

// New constructs the introspection HTTP handler, wrapped with logging and
// panic-recovery middleware, and returns the mount path and handler.
func New(neighbors NeighborSource, pending PendingConnSource, logger *slog.Logger) (string, http.Handler) {
	srv := &Server{
		neighbors: neighbors,
		pending:   pending,
		logger:    logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ldp.v1.LdpIntrospection/ListNeighbors", srv.handleListNeighbors)
	mux.HandleFunc("GET /ldp.v1.LdpIntrospection/GetNeighbor", srv.handleGetNeighbor)
	mux.HandleFunc("GET /ldp.v1.LdpIntrospection/ListPendingConnections", srv.handleListPendingConnections)

	handler := recoveryMiddleware(srv.logger, loggingMiddleware(srv.logger, mux))
	return "/ldp.v1.LdpIntrospection/", handler
}

// handleListNeighbors returns every known neighbor.
func (s *Server) handleListNeighbors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listNeighborsResponse{Neighbors: s.neighbors.ListNeighbors()})
}

type listNeighborsResponse struct {
	Neighbors []NeighborSnapshot `json:"neighbors"`
}

// handleGetNeighbor returns a single neighbor by address.
func (s *Server) handleGetNeighbor(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		writeError(w, http.StatusBadRequest, ErrMissingAddress)
		return
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidAddress, err))
		return
	}

	nbr, ok := s.neighbors.FindNeighbor(addr)
	if !ok {
		writeError(w, http.StatusNotFound, ErrNeighborNotFound)
		return
	}

	writeJSON(w, http.StatusOK, nbr)
}

// handleListPendingConnections returns the packet-I/O core's current
// pending-connection table.
func (s *Server) handleListPendingConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listPendingConnectionsResponse{Pending: s.pending.PendingConnections()})
}

type listPendingConnectionsResponse struct {
	Pending []ldp.PendingConnInfo `json:"pending"`
}

// -------------------------------------------------------------------------
// JSON helpers
// -------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// -------------------------------------------------------------------------
// Middleware — adapted from the reference connect.UnaryInterceptorFunc
// logging/recovery pair, generalized to plain net/http for this
// hand-served JSON surface.
// -------------------------------------------------------------------------

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.LogAttrs(r.Context(), slog.LevelInfo, "rpc completed",
			slog.String("procedure", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				logger.ErrorContext(r.Context(), "panic recovered in rpc handler",
					slog.String("procedure", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(buf[:n])),
				)
				writeError(w, http.StatusInternalServerError, ErrPanicRecovered)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

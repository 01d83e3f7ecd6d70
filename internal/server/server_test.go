package server_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
	"github.com/soumyar-roy/ldpd-go/internal/server"
)

// fakeNeighborSource implements server.NeighborSource over an in-memory
// slice for tests.
type fakeNeighborSource struct {
	neighbors map[netip.Addr]server.NeighborSnapshot
}

func (f *fakeNeighborSource) ListNeighbors() []server.NeighborSnapshot {
	out := make([]server.NeighborSnapshot, 0, len(f.neighbors))
	for _, n := range f.neighbors {
		out = append(out, n)
	}
	return out
}

func (f *fakeNeighborSource) FindNeighbor(addr netip.Addr) (server.NeighborSnapshot, bool) {
	n, ok := f.neighbors[addr]
	return n, ok
}

// fakePendingSource implements server.PendingConnSource for tests.
type fakePendingSource struct {
	entries []ldp.PendingConnInfo
}

func (f *fakePendingSource) PendingConnections() []ldp.PendingConnInfo {
	return f.entries
}

func setupTestServer(t *testing.T, neighbors *fakeNeighborSource, pending *fakePendingSource) string {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	path, handler := server.New(neighbors, pending, logger)

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv.URL
}

func TestListNeighbors(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddr("192.0.2.1")
	neighbors := &fakeNeighborSource{neighbors: map[netip.Addr]server.NeighborSnapshot{
		addr: {LSRID: 1, Address: addr, StateName: "OPER", MaxPDULen: 4096},
	}}

	url := setupTestServer(t, neighbors, &fakePendingSource{})

	resp, err := http.Get(url + "/ldp.v1.LdpIntrospection/ListNeighbors")
	if err != nil {
		t.Fatalf("GET ListNeighbors: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Neighbors []server.NeighborSnapshot `json:"neighbors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(body.Neighbors) != 1 {
		t.Fatalf("len(Neighbors) = %d, want 1", len(body.Neighbors))
	}
	if body.Neighbors[0].StateName != "OPER" {
		t.Errorf("StateName = %q, want OPER", body.Neighbors[0].StateName)
	}
}

func TestGetNeighborFound(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddr("192.0.2.1")
	neighbors := &fakeNeighborSource{neighbors: map[netip.Addr]server.NeighborSnapshot{
		addr: {LSRID: 7, Address: addr, StateName: "OPENSENT", MaxPDULen: 1500},
	}}

	url := setupTestServer(t, neighbors, &fakePendingSource{})

	resp, err := http.Get(url + "/ldp.v1.LdpIntrospection/GetNeighbor?address=192.0.2.1")
	if err != nil {
		t.Fatalf("GET GetNeighbor: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got server.NeighborSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LSRID != 7 {
		t.Errorf("LSRID = %d, want 7", got.LSRID)
	}
}

func TestGetNeighborNotFound(t *testing.T) {
	t.Parallel()

	url := setupTestServer(t, &fakeNeighborSource{neighbors: map[netip.Addr]server.NeighborSnapshot{}}, &fakePendingSource{})

	resp, err := http.Get(url + "/ldp.v1.LdpIntrospection/GetNeighbor?address=10.0.0.9")
	if err != nil {
		t.Fatalf("GET GetNeighbor: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetNeighborMissingAddress(t *testing.T) {
	t.Parallel()

	url := setupTestServer(t, &fakeNeighborSource{neighbors: map[netip.Addr]server.NeighborSnapshot{}}, &fakePendingSource{})

	resp, err := http.Get(url + "/ldp.v1.LdpIntrospection/GetNeighbor")
	if err != nil {
		t.Fatalf("GET GetNeighbor: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetNeighborInvalidAddress(t *testing.T) {
	t.Parallel()

	url := setupTestServer(t, &fakeNeighborSource{neighbors: map[netip.Addr]server.NeighborSnapshot{}}, &fakePendingSource{})

	resp, err := http.Get(url + "/ldp.v1.LdpIntrospection/GetNeighbor?address=not-an-ip")
	if err != nil {
		t.Fatalf("GET GetNeighbor: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListPendingConnections(t *testing.T) {
	t.Parallel()

	pending := &fakePendingSource{entries: []ldp.PendingConnInfo{
		{Family: ldp.AddressFamilyIPv4, Address: netip.MustParseAddr("192.0.2.5")},
	}}

	url := setupTestServer(t, &fakeNeighborSource{neighbors: map[netip.Addr]server.NeighborSnapshot{}}, pending)

	resp, err := http.Get(url + "/ldp.v1.LdpIntrospection/ListPendingConnections")
	if err != nil {
		t.Fatalf("GET ListPendingConnections: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Pending []ldp.PendingConnInfo `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(body.Pending) != 1 {
		t.Fatalf("len(Pending) = %d, want 1", len(body.Pending))
	}
}

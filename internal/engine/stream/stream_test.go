package stream

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/pkg/formats"
)

func testPack() *formats.MPK {
	return &formats.MPK{
		Version: formats.MPKVersion{Major: formats.MPKVersionMajor},
		Meshlets: []formats.MPKMeshlet{{
			VertexCount: 3, TriangleCount: 1,
			BoundsMax: [3]float32{1, 1, 0},
			ConeAxis:  [3]float32{0, 0, 1}, ConeCutoff: -1,
			Parent: -1,
		}},
		Nodes:         []formats.MPKNode{{SphereRadius: 1, MeshletCount: 1}},
		Positions:     []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Normals:       []float32{0, 0, 1, 0, 0, 1, 0, 0, 1},
		Tangents:      []float32{1, 0, 0, 1, 0, 0, 1, 0, 0},
		UVs:           []float32{0, 0, 1, 0, 0, 1},
		VertexRefs:    []uint32{0, 1, 2},
		TriangleVerts: []uint8{0, 1, 2},
		NodeMeshlets:  []uint32{0},
	}
}

func writePack(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := formats.SaveMPK(path, testPack()); err != nil {
		t.Fatalf("saving pack failed: %v", err)
	}
	return path
}

// collectUntil polls Collect until handles arrive or the deadline passes.
func collectUntil(t *testing.T, l *Loader, want int) []store.Handle {
	t.Helper()
	var got []store.Handle
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got = append(got, l.Collect()...)
		if len(got) >= want {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d handles, got %d before deadline", want, len(got))
	return nil
}

func newTestLoader(t *testing.T, cfg store.Config) (*Loader, *store.Store) {
	t.Helper()
	st, err := store.New(cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	l := NewLoader(st, 2, zap.NewNop())
	t.Cleanup(l.Close)
	return l, st
}

func TestLoadRegistersAtCollect(t *testing.T) {
	l, st := newTestLoader(t, store.DefaultConfig())
	path := writePack(t, t.TempDir(), "a.mpk")

	if !l.Request(path) {
		t.Fatal("expected request to enqueue")
	}
	handles := collectUntil(t, l, 1)

	if _, err := st.Mesh(handles[0]); err != nil {
		t.Errorf("expected registered mesh, got %v", err)
	}
	if h, ok := l.Handle(path); !ok || h != handles[0] {
		t.Errorf("expected loader to track handle, got %v ok=%v", h, ok)
	}
}

func TestDuplicateRequestSkipped(t *testing.T) {
	l, _ := newTestLoader(t, store.DefaultConfig())
	path := writePack(t, t.TempDir(), "a.mpk")

	if !l.Request(path) {
		t.Fatal("expected first request to enqueue")
	}
	collectUntil(t, l, 1)
	if l.Request(path) {
		t.Error("expected request for a loaded pack to be skipped")
	}
}

func TestCorruptFileSkipped(t *testing.T) {
	l, _ := newTestLoader(t, store.DefaultConfig())
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.mpk")
	if err := os.WriteFile(bad, []byte("GRGN"), 0644); err != nil {
		t.Fatalf("writing bad file failed: %v", err)
	}
	good := writePack(t, dir, "good.mpk")

	l.Request(bad)
	l.Request(good)
	handles := collectUntil(t, l, 1)
	if len(handles) != 1 {
		t.Errorf("expected only the valid pack to load, got %d", len(handles))
	}
	if _, ok := l.Handle(bad); ok {
		t.Error("expected no handle for the corrupt pack")
	}
}

func TestRetireAppliedAtCollect(t *testing.T) {
	l, st := newTestLoader(t, store.DefaultConfig())
	path := writePack(t, t.TempDir(), "a.mpk")

	l.Request(path)
	handles := collectUntil(t, l, 1)

	if !l.Retire(path) {
		t.Fatal("expected retire of a loaded pack")
	}
	if l.Retire(path) {
		t.Error("expected double retire to report false")
	}
	l.Collect()
	if _, err := st.Mesh(handles[0]); err == nil {
		t.Error("expected mesh gone after retire collect")
	}
}

func TestFullStoreRetriesNextCollect(t *testing.T) {
	l, st := newTestLoader(t, store.Config{VertexCapacity: 1, RefCapacity: 1, TriangleCapacity: 1})
	path := writePack(t, t.TempDir(), "a.mpk")

	l.Request(path)
	// Wait for the parse to finish, then collect mid-frame: the store may
	// not grow, so the pack must stay queued.
	deadline := time.Now().Add(5 * time.Second)
	for l.ReadyCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if l.ReadyCount() == 0 {
		t.Fatal("expected parsed pack before deadline")
	}

	st.BeginFrame()
	if got := l.Collect(); len(got) != 0 {
		t.Fatalf("expected no registration mid-frame, got %d", len(got))
	}
	if l.ReadyCount() != 1 {
		t.Error("expected pack to stay queued for retry")
	}
	if err := st.EndFrame(); err != nil {
		t.Fatalf("end frame failed: %v", err)
	}

	handles := l.Collect()
	if len(handles) != 1 {
		t.Fatalf("expected registration after growth, got %d", len(handles))
	}
	if _, err := st.Mesh(handles[0]); err != nil {
		t.Errorf("expected registered mesh, got %v", err)
	}
}

package subprocess

import (
	"errors"
	"os"
	"testing"

	"github.com/seantiz/scribe/internal/backend"
)

func TestFreedChunkGoneInChild(t *testing.T) {
	in, err := New(backend.Config{LuaPath: os.Args[0]})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer in.Close()

	fn, err := in.LoadString("return 'alive'", "Module:Gone")
	if err != nil {
		t.Fatal(err)
	}
	id := fn.(*function).id
	fn.Release()
	if err := in.CleanupChunks(); err != nil {
		t.Fatalf("CleanupChunks: %v", err)
	}
	if in.arena.live(id) {
		t.Fatalf("live(%d) = true after cleanup", id)
	}

	// A handle rebuilt for the freed id reaches the child, which no longer
	// has the chunk.
	in.arena.acquire(id)
	ghost := &function{in: in, id: id}
	_, err = in.CallFunction(ghost)
	var hnf *backend.HandleNotFoundError
	if !errors.As(err, &hnf) || hnf.ID != id {
		t.Fatalf("err = %v, want HandleNotFoundError for %d", err, id)
	}
	if !backend.IsFatal(err) {
		t.Error("IsFatal(remote handle error) = false")
	}
}

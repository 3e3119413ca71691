package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	for _, key := range []string{"", "../secret", "a/../../b", "/etc/passwd", `..\windows`, "."} {
		if _, err := store.Path(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
	p, err := store.Path("protection/u/./a.png")
	if err != nil {
		t.Fatalf("clean key rejected: %v", err)
	}
	if !strings.HasPrefix(p, store.baseDir) || filepath.Base(p) != "a.png" {
		t.Fatalf("unexpected path %s", p)
	}
}

func TestLocalStoreWriteOpenRemove(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	n, err := store.Write(context.Background(), "protection/u/x.txt", strings.NewReader("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	f, err := store.Open("protection/u/x.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "hello" {
		t.Fatalf("read back %q", data)
	}
	if err := store.Remove("protection/u/x.txt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove("protection/u/x.txt"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, err := store.Open("protection/u/x.txt"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

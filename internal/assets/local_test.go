package assets

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLocalUploadAndExists(t *testing.T) {
	s, err := OpenLocal(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	data := []byte("glb bytes")
	name := HashedName("model.glb", data)

	ok, err := s.Exists(ctx, name)
	if err != nil || ok {
		t.Fatalf("exists before upload = %v, %v", ok, err)
	}

	if err := s.Upload(ctx, name, bytes.NewReader(data)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ok, err = s.Exists(ctx, name)
	if err != nil || !ok {
		t.Fatalf("exists after upload = %v, %v", ok, err)
	}

	got, err := os.ReadFile(s.Path(name))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("stored bytes differ")
	}

	// Re-upload of a known name is a no-op, not an error.
	if err := s.Upload(ctx, name, bytes.NewReader([]byte("different"))); err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	got, _ = os.ReadFile(s.Path(name))
	if !bytes.Equal(got, data) {
		t.Fatalf("re-upload overwrote immutable asset")
	}
}

func TestLocalRejectsBadNames(t *testing.T) {
	s, err := OpenLocal(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for _, name := range []string{"", "../evil", "a/b", ".hidden"} {
		err := s.Upload(context.Background(), name, bytes.NewReader([]byte("x")))
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("name %q: err = %v, want ErrRejected", name, err)
		}
	}
}

func TestHashedName(t *testing.T) {
	a := HashedName("model.glb", []byte("data"))
	b := HashedName("other.glb", []byte("data"))
	if a != b {
		t.Fatalf("same content hashed differently: %s vs %s", a, b)
	}
	if !strings.HasSuffix(a, ".glb") {
		t.Fatalf("extension lost: %s", a)
	}
	c := HashedName("model.glb", []byte("data2"))
	if a == c {
		t.Fatalf("different content collided")
	}
}

package localfs

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestStorageSaveOpenDelete(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "s1_e1_receipt.jpg", strings.NewReader("jpeg-bytes")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := store.Open(ctx, "s1_e1_receipt.jpg")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "jpeg-bytes" {
		t.Fatalf("data = %q", data)
	}

	if err := store.Delete(ctx, "s1_e1_receipt.jpg"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Open(ctx, "s1_e1_receipt.jpg"); err == nil {
		t.Fatalf("expected open error after delete")
	}
	if err := store.Delete(ctx, "s1_e1_receipt.jpg"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestStorageRejectsTraversalKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Errorf("Save(%q) expected error", key)
		}
	}
}

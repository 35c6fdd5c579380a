package cache

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileCacheAppendReadComplete(t *testing.T) {
	finalPath := filepath.Join(t.TempDir(), "clip.mp4")
	fc, err := OpenFile(finalPath)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer fc.Close()

	if fc.Path() != finalPath+tempSuffix {
		t.Fatalf("expected temp path, got %s", fc.Path())
	}
	if err := fc.Append([]byte("hello ")); err != nil {
		t.Fatalf("append error: %v", err)
	}
	if err := fc.Append([]byte("world")); err != nil {
		t.Fatalf("append error: %v", err)
	}
	if fc.Available() != 11 {
		t.Fatalf("available mismatch: %d", fc.Available())
	}

	buf := make([]byte, 5)
	n, err := fc.ReadAt(buf, 6)
	if err != nil || string(buf[:n]) != "world" {
		t.Fatalf("read mismatch: %q err=%v", buf[:n], err)
	}

	if err := fc.Complete(); err != nil {
		t.Fatalf("complete error: %v", err)
	}
	if !fc.IsCompleted() || fc.Path() != finalPath {
		t.Fatalf("expected completed file at %s, got %s", finalPath, fc.Path())
	}
	if _, err := os.Stat(finalPath + tempSuffix); !os.IsNotExist(err) {
		t.Fatalf("temp file should be renamed, stat err=%v", err)
	}
	if err := fc.Append([]byte("!")); !errors.Is(err, ErrCompleted) {
		t.Fatalf("expected ErrCompleted, got %v", err)
	}

	n, err = fc.ReadAt(make([]byte, 32), 0)
	if err != nil || n != 11 {
		t.Fatalf("expected full read after complete, n=%d err=%v", n, err)
	}
}

func TestFileCacheReadAtEnd(t *testing.T) {
	fc, err := OpenFile(filepath.Join(t.TempDir(), "clip"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer fc.Close()

	if _, err := fc.ReadAt(make([]byte, 1), 0); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF on empty cache, got %v", err)
	}
	if err := fc.Append([]byte("abc")); err != nil {
		t.Fatalf("append error: %v", err)
	}
	if _, err := fc.ReadAt(make([]byte, 1), 3); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF at available, got %v", err)
	}
	n, err := fc.ReadAt(make([]byte, 10), 1)
	if err != nil || n != 2 {
		t.Fatalf("expected clamped read of 2 bytes, n=%d err=%v", n, err)
	}
}

func TestFileCacheResumesPartialDownload(t *testing.T) {
	finalPath := filepath.Join(t.TempDir(), "clip.mp4")
	first, err := OpenFile(finalPath)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := first.Append([]byte("part-one")); err != nil {
		t.Fatalf("append error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	second, err := OpenFile(finalPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer second.Close()
	if second.IsCompleted() || second.Available() != 8 {
		t.Fatalf("expected resumable cache with 8 bytes, got completed=%v available=%d", second.IsCompleted(), second.Available())
	}
}

func TestFileCacheResetDiscardsPartialData(t *testing.T) {
	finalPath := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(finalPath+tempSuffix, []byte("stale-bytes-from-an-older-origin"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	fc, err := OpenFile(finalPath)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer fc.Close()

	if err := fc.Reset(); err != nil {
		t.Fatalf("reset error: %v", err)
	}
	if fc.Available() != 0 {
		t.Fatalf("expected empty cache after reset, got %d bytes", fc.Available())
	}
	if info, err := os.Stat(finalPath + tempSuffix); err != nil || info.Size() != 0 {
		t.Fatalf("expected truncated temp file, info=%v err=%v", info, err)
	}
	if err := fc.Append([]byte("fresh")); err != nil {
		t.Fatalf("append error: %v", err)
	}
	if err := fc.Complete(); err != nil {
		t.Fatalf("complete error: %v", err)
	}
	got, err := os.ReadFile(finalPath)
	if err != nil || string(got) != "fresh" {
		t.Fatalf("expected final file to hold only new data, got %q err=%v", got, err)
	}
	if err := fc.Reset(); !errors.Is(err, ErrCompleted) {
		t.Fatalf("expected ErrCompleted, got %v", err)
	}
}

func TestFileCacheReopensCompletedFile(t *testing.T) {
	finalPath := filepath.Join(t.TempDir(), "done.mp4")
	if err := os.WriteFile(finalPath, []byte("complete"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	fc, err := OpenFile(finalPath)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer fc.Close()
	if !fc.IsCompleted() || fc.Available() != 8 {
		t.Fatalf("expected completed cache, got completed=%v available=%d", fc.IsCompleted(), fc.Available())
	}
	if err := fc.Append([]byte("x")); !errors.Is(err, ErrCompleted) {
		t.Fatalf("expected ErrCompleted, got %v", err)
	}
}

func TestFileCacheClosed(t *testing.T) {
	fc, err := OpenFile(filepath.Join(t.TempDir(), "clip"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := fc.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if err := fc.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if err := fc.Append([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := fc.Reset(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := fc.ReadAt(make([]byte, 1), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFileCacheConcurrentReadDuringAppend(t *testing.T) {
	fc, err := OpenFile(filepath.Join(t.TempDir(), "clip"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer fc.Close()

	chunk := bytes.Repeat([]byte{0xAB}, 512)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := fc.Append(chunk); err != nil {
				t.Errorf("append error: %v", err)
				return
			}
		}
	}()

	buf := make([]byte, 700)
	for fc.Available() < int64(200*len(chunk)) {
		available := fc.Available()
		if available == 0 {
			continue
		}
		n, err := fc.ReadAt(buf, available/2)
		if err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("read error: %v", err)
		}
		for _, b := range buf[:n] {
			if b != 0xAB {
				t.Fatalf("read unwritten byte %x", b)
			}
		}
	}
	wg.Wait()
}

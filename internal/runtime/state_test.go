package runtime

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTryAcquireRelease(t *testing.T) {
	t.Parallel()
	s := New()

	if !s.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if s.TryAcquire() {
		t.Error("second acquire should be rejected while running")
	}
	if !s.Running() {
		t.Error("expected running=true after acquire")
	}

	s.Release()
	if s.Running() {
		t.Error("expected running=false after release")
	}
	if !s.TryAcquire() {
		t.Error("acquire should succeed again after release")
	}
}

func TestTryAcquireConcurrent(t *testing.T) {
	t.Parallel()
	s := New()

	const goroutines = 50
	var wg sync.WaitGroup
	winners := make(chan int, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if s.TryAcquire() {
				winners <- n
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 successful acquire, got %d", count)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()
	s := New()
	s.Release()
	s.Release()
	if s.Running() {
		t.Error("expected running=false")
	}
}

func TestAppendTimestampsLines(t *testing.T) {
	t.Parallel()
	s := New()
	fixed := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Append("Starting report download process...")
	lines, offset := s.ReadFrom(0)
	if offset != 1 || len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d (offset %d)", len(lines), offset)
	}
	want := "2024-01-15 09:30:00: Starting report download process..."
	if lines[0] != want {
		t.Errorf("got %q, want %q", lines[0], want)
	}
}

func TestAppendBound(t *testing.T) {
	t.Parallel()
	s := New()

	for i := 0; i < MaxMessages+37; i++ {
		s.Appendf("line %d", i)
	}

	lines, _ := s.ReadFrom(0)
	if len(lines) != MaxMessages {
		t.Fatalf("expected %d lines after overflow, got %d", MaxMessages, len(lines))
	}
	// Oldest evicted first, original order preserved.
	if !strings.HasSuffix(lines[0], fmt.Sprintf("line %d", 37)) {
		t.Errorf("expected first surviving line to be 'line 37', got %q", lines[0])
	}
	if !strings.HasSuffix(lines[len(lines)-1], fmt.Sprintf("line %d", MaxMessages+36)) {
		t.Errorf("unexpected last line %q", lines[len(lines)-1])
	}
}

func TestReadFromOffsets(t *testing.T) {
	t.Parallel()
	s := New()
	s.Append("a")
	s.Append("b")

	lines, offset := s.ReadFrom(0)
	if len(lines) != 2 || offset != 2 {
		t.Fatalf("got %d lines offset %d", len(lines), offset)
	}

	lines, offset = s.ReadFrom(offset)
	if len(lines) != 0 || offset != 2 {
		t.Fatalf("expected no new lines, got %d (offset %d)", len(lines), offset)
	}

	s.Append("c")
	lines, offset = s.ReadFrom(offset)
	if len(lines) != 1 || offset != 3 {
		t.Fatalf("expected 1 new line, got %d (offset %d)", len(lines), offset)
	}

	// Past-the-end and negative offsets are tolerated.
	if lines, _ := s.ReadFrom(100); len(lines) != 0 {
		t.Error("offset past end should read empty")
	}
	if lines, _ := s.ReadFrom(-5); len(lines) != 3 {
		t.Error("negative offset should read from start")
	}
}

func TestResetMessages(t *testing.T) {
	t.Parallel()
	s := New()
	s.Append("stale")
	s.ResetMessages()

	lines, offset := s.ReadFrom(0)
	if len(lines) != 0 || offset != 0 {
		t.Errorf("expected empty log after reset, got %d lines offset %d", len(lines), offset)
	}
}

func TestSnapshotAtomic(t *testing.T) {
	t.Parallel()
	s := New()
	s.TryAcquire()
	s.Append("x")

	p := s.Snapshot(0)
	if !p.Running || len(p.Lines) != 1 || p.NewOffset != 1 {
		t.Errorf("unexpected snapshot %+v", p)
	}

	s.Release()
	p = s.Snapshot(p.NewOffset)
	if p.Running || len(p.Lines) != 0 {
		t.Errorf("unexpected snapshot %+v", p)
	}
}

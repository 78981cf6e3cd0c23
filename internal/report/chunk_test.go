package report

import (
	"testing"
	"time"
)

func TestResolveChunk(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw       string
		want      Chunk
		defaulted bool
	}{
		{"month", Chunk{Monthly: true}, false},
		{"Month", Chunk{Monthly: true}, false},
		{"MONTH", Chunk{Monthly: true}, false},
		{"5", Chunk{Days: 5}, false},
		{"31", Chunk{Days: 31}, false},
		{" 7 ", Chunk{Days: 7}, false},
		{"0", Chunk{Days: DefaultChunkDays}, true},
		{"-3", Chunk{Days: DefaultChunkDays}, true},
		{"abc", Chunk{Days: DefaultChunkDays}, true},
		{"", Chunk{Days: DefaultChunkDays}, false},
		{"3.5", Chunk{Days: DefaultChunkDays}, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, defaulted := ResolveChunk(tt.raw)
			if got != tt.want {
				t.Errorf("ResolveChunk(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if defaulted != tt.defaulted {
				t.Errorf("ResolveChunk(%q) defaulted = %v, want %v", tt.raw, defaulted, tt.defaulted)
			}
		})
	}
}

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSplitRangeDays(t *testing.T) {
	t.Parallel()
	got := SplitRange(date("2024-01-01"), date("2024-01-12"), Chunk{Days: 5})

	want := []Range{
		{date("2024-01-01"), date("2024-01-05")},
		{date("2024-01-06"), date("2024-01-10")},
		{date("2024-01-11"), date("2024-01-12")},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].From.Equal(want[i].From) || !got[i].To.Equal(want[i].To) {
			t.Errorf("range %d: got %v..%v, want %v..%v", i, got[i].From, got[i].To, want[i].From, want[i].To)
		}
	}
}

func TestSplitRangeMonthly(t *testing.T) {
	t.Parallel()
	got := SplitRange(date("2024-01-15"), date("2024-03-10"), Chunk{Monthly: true})

	want := []Range{
		{date("2024-01-15"), date("2024-01-31")},
		{date("2024-02-01"), date("2024-02-29")}, // leap year
		{date("2024-03-01"), date("2024-03-10")},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].From.Equal(want[i].From) || !got[i].To.Equal(want[i].To) {
			t.Errorf("range %d: got %v..%v, want %v..%v", i, got[i].From, got[i].To, want[i].From, want[i].To)
		}
	}
}

func TestSplitRangeSingleDay(t *testing.T) {
	t.Parallel()
	got := SplitRange(date("2024-06-01"), date("2024-06-01"), Chunk{Days: 5})
	if len(got) != 1 {
		t.Fatalf("got %d ranges, want 1", len(got))
	}
	if !got[0].From.Equal(got[0].To) {
		t.Error("single day range should collapse")
	}
}

func TestSplitRangeReversed(t *testing.T) {
	t.Parallel()
	if got := SplitRange(date("2024-06-10"), date("2024-06-01"), Chunk{Days: 5}); got != nil {
		t.Errorf("reversed range should yield nil, got %v", got)
	}
}

func TestURLCatalog(t *testing.T) {
	t.Parallel()
	u, ok := URL(TypeSales)
	if !ok || u == "" {
		t.Fatal("sales report should resolve")
	}
	if _, ok := URL("FAF999 - Unknown"); ok {
		t.Error("unknown type should not resolve")
	}
	if len(Types()) != len(URLs()) {
		t.Error("Types and URLs should agree")
	}
}

func TestRegions(t *testing.T) {
	t.Parallel()
	r, ok := RegionByIndex(1)
	if !ok || r.Name != "North" {
		t.Errorf("region 1 = %+v, ok=%v", r, ok)
	}
	if _, ok := RegionByIndex(9); ok {
		t.Error("region 9 should not exist")
	}

	u, _ := URL(TypeOtherImportExport)
	if !RegionRequired(u) {
		t.Error("FAF003 should require region selection")
	}
	u, _ = URL(TypeSales)
	if RegionRequired(u) {
		t.Error("FAF001 should not require region selection")
	}
}

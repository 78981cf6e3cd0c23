package report

import (
	"strconv"
	"strings"
	"time"
)

// DefaultChunkDays is used when a request carries no usable chunk size.
const DefaultChunkDays = 5

// DateLayout is the wire format for report date ranges.
const DateLayout = "2006-01-02"

// Chunk is a resolved chunking mode: either whole calendar months or a
// fixed day count.
type Chunk struct {
	Monthly bool
	Days    int
}

func (c Chunk) String() string {
	if c.Monthly {
		return "month"
	}
	return strconv.Itoa(c.Days)
}

// ResolveChunk parses a raw chunk_size value. The literal "month"
// passes through; a positive integer becomes a day count; anything
// else (unparseable, zero, negative) falls back to DefaultChunkDays
// with defaulted=true so the caller can warn. An absent value takes
// the default without a warning. No input is an error.
func ResolveChunk(raw string) (c Chunk, defaulted bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Chunk{Days: DefaultChunkDays}, false
	}
	if strings.EqualFold(raw, "month") {
		return Chunk{Monthly: true}, false
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return Chunk{Days: DefaultChunkDays}, true
	}
	return Chunk{Days: days}, false
}

// Range is an inclusive date range.
type Range struct {
	From time.Time
	To   time.Time
}

// SplitRange cuts [from, to] into consecutive inclusive sub-ranges per
// the chunk mode. Monthly chunks end on calendar month boundaries; day
// chunks cover chunk.Days days each. The final sub-range is clamped to
// to. A reversed range yields nothing.
func SplitRange(from, to time.Time, chunk Chunk) []Range {
	if to.Before(from) {
		return nil
	}

	var out []Range
	cur := from
	for !cur.After(to) {
		var end time.Time
		if chunk.Monthly {
			end = endOfMonth(cur)
		} else {
			end = cur.AddDate(0, 0, chunk.Days-1)
		}
		if end.After(to) {
			end = to
		}
		out = append(out, Range{From: cur, To: end})
		cur = end.AddDate(0, 0, 1)
	}
	return out
}

func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}

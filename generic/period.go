package generic

import "math"

// =============================================================================
// DATE RANGE - Report and filter window
// =============================================================================

// DateRange is an inclusive [From, To] window. A zero bound is open, so the
// zero DateRange matches every date.
type DateRange struct {
	From Date
	To   Date
}

// Contains returns true if d falls within the range.
func (r DateRange) Contains(d Date) bool {
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To) {
		return false
	}
	return true
}

// Validate rejects ranges whose end precedes the start.
func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return ErrInvalidRange
	}
	return nil
}

func (r DateRange) String() string {
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}

// =============================================================================
// PAGINATION
// =============================================================================

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	maxPageNumber = math.MaxInt / MaxPageSize
)

// Page selects a slice of an ordered result. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

// Normalize applies defaults and clamps the size.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	if p.Number > maxPageNumber {
		p.Number = maxPageNumber
	}
	return p
}

// Bounds returns the [start, end) indexes of the page within total items.
func (p Page) Bounds(total int) (int, int) {
	p = p.Normalize()
	start := total
	// compare in page units first so the multiplication cannot overflow
	if p.Number-1 <= total/p.Size {
		start = min((p.Number-1)*p.Size, total)
	}
	end := start + p.Size
	if end > total {
		end = total
	}
	return start, end
}

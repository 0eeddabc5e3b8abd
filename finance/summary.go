package finance

import (
	"context"
	"sort"
	"strings"

	"github.com/oleoverde/ledger-engine/generic"
)

// =============================================================================
// FILTER
// =============================================================================

// EntryFilter selects entries for summaries and listings. Range matches the
// issue date. An empty Status matches every entry that is not fully
// canceled; StatusCanceled selects only canceled entries.
type EntryFilter struct {
	Range     generic.DateRange
	Direction Direction
	Status    Status
	Search    string // counterparty name, fantasy name, tax id or description
	OwnerID   string
}

func (f EntryFilter) Validate() error {
	if err := f.Range.Validate(); err != nil {
		return err
	}
	if f.Direction != "" && !f.Direction.IsValid() {
		return generic.NewValidationError("INVALID_DIRECTION", "direction must be credito or debito")
	}
	if f.Status != "" && !f.Status.IsValid() {
		return generic.NewValidationError("INVALID_STATUS", "unknown status filter")
	}
	return nil
}

// Matches applies every filter field to e on the given day.
func (f EntryFilter) Matches(e Entry, today generic.Date) bool {
	if !f.Range.Contains(e.IssueDate) {
		return false
	}
	if f.Direction != "" && e.Direction != f.Direction {
		return false
	}
	if f.OwnerID != "" && e.OwnerID != f.OwnerID {
		return false
	}
	if f.Search != "" && !matchesSearch(e, f.Search) {
		return false
	}

	status := EntryStatus(e, today)
	if f.Status == "" {
		return status != StatusCanceled
	}
	return status == f.Status
}

func matchesSearch(e Entry, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	for _, field := range []string{e.Counterparty.Name, e.Counterparty.FantasyName, e.Counterparty.TaxID, e.Description} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// =============================================================================
// SUMMARY
// =============================================================================

type Summary struct {
	Count        int            `json:"count"`
	TotalValue   generic.Amount `json:"total_value"`
	TotalPaid    generic.Amount `json:"total_paid"`
	TotalBalance generic.Amount `json:"total_balance"`
}

// EntryView is one row of the paginated listing.
type EntryView struct {
	Entry   Entry
	Paid    generic.Amount
	Balance generic.Amount
	Status  Status
}

type EntryPage struct {
	Items []EntryView
	Total int
	Page  generic.Page
}

// Summary folds the matching entries' installments. It uses the same
// filter path as ListEntries, so a listing and its summary always agree.
func (s *Service) Summary(ctx context.Context, filter EntryFilter) (Summary, error) {
	entries, err := s.matching(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(entries), nil
}

// Summarize is the pure fold behind Summary.
func Summarize(entries []Entry) Summary {
	sum := Summary{
		TotalValue:   generic.ZeroAmount(),
		TotalPaid:    generic.ZeroAmount(),
		TotalBalance: generic.ZeroAmount(),
	}
	for _, e := range entries {
		paid, balance := e.Totals()
		sum.Count++
		sum.TotalValue = sum.TotalValue.Add(e.Total)
		sum.TotalPaid = sum.TotalPaid.Add(paid)
		sum.TotalBalance = sum.TotalBalance.Add(balance)
	}
	sum.TotalValue = sum.TotalValue.Round()
	sum.TotalPaid = sum.TotalPaid.Round()
	sum.TotalBalance = sum.TotalBalance.Round()
	return sum
}

// ListEntries returns one page of matching entries, newest issue date first.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter, page generic.Page) (EntryPage, error) {
	entries, err := s.matching(ctx, filter)
	if err != nil {
		return EntryPage{}, err
	}

	page = page.Normalize()
	start, end := page.Bounds(len(entries))
	today := s.Clock()

	items := make([]EntryView, 0, end-start)
	for _, e := range entries[start:end] {
		paid, balance := e.Totals()
		items = append(items, EntryView{
			Entry:   e,
			Paid:    paid.Round(),
			Balance: balance.Round(),
			Status:  EntryStatus(e, today),
		})
	}
	return EntryPage{Items: items, Total: len(entries), Page: page}, nil
}

func (s *Service) matching(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	all, err := s.Repo.ListEntries(ctx, filter)
	if err != nil {
		return nil, err
	}

	today := s.Clock()
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if filter.Matches(e, today) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

package stock

import (
	"context"
	"sort"
	"strings"

	"github.com/oleoverde/ledger-engine/generic"
	"github.com/shopspring/decimal"
)

// MovementFilter selects movements for summaries and listings. Range
// matches MovedAt. ProductSearch matches product id or name; when set, only
// the matching lines count toward quantities.
type MovementFilter struct {
	Range         generic.DateRange
	Direction     Direction
	Origin        Origin
	ProductSearch string
	OwnerID       string
}

func (f MovementFilter) Validate() error {
	if err := f.Range.Validate(); err != nil {
		return err
	}
	if f.Direction != "" && !f.Direction.IsValid() {
		return generic.NewValidationError("INVALID_DIRECTION", "direction must be entrada or saida")
	}
	return nil
}

type Summary struct {
	TotalMovements int             `json:"total_movements"`
	TotalIn        decimal.Decimal `json:"total_in"`
	TotalOut       decimal.Decimal `json:"total_out"`
}

type MovementPage struct {
	Items []Movement
	Total int
	Page  generic.Page
}

// Summary folds the lines of every matching movement.
func (s *Service) Summary(ctx context.Context, filter MovementFilter) (Summary, error) {
	movements, lineMatch, err := s.matching(ctx, filter)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{TotalIn: decimal.Zero, TotalOut: decimal.Zero}
	for _, m := range movements {
		sum.TotalMovements++
		for _, l := range m.Lines {
			if !lineMatch(l) {
				continue
			}
			if l.DirectionIn(m.Direction) == DirectionIn {
				sum.TotalIn = sum.TotalIn.Add(l.Quantity)
			} else {
				sum.TotalOut = sum.TotalOut.Add(l.Quantity)
			}
		}
	}
	return sum, nil
}

// ListMovements returns one page of matching movements, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter, page generic.Page) (MovementPage, error) {
	movements, _, err := s.matching(ctx, filter)
	if err != nil {
		return MovementPage{}, err
	}
	page = page.Normalize()
	start, end := page.Bounds(len(movements))
	return MovementPage{Items: movements[start:end], Total: len(movements), Page: page}, nil
}

func (s *Service) matching(ctx context.Context, filter MovementFilter) ([]Movement, func(Line) bool, error) {
	if err := filter.Validate(); err != nil {
		return nil, nil, err
	}

	lineMatch := func(Line) bool { return true }
	if term := strings.ToLower(strings.TrimSpace(filter.ProductSearch)); term != "" {
		products, err := s.Repo.ListProducts(ctx)
		if err != nil {
			return nil, nil, err
		}
		ids := map[string]bool{}
		for _, p := range products {
			if strings.Contains(strings.ToLower(p.Name), term) || strings.ToLower(p.ID) == term {
				ids[p.ID] = true
			}
		}
		lineMatch = func(l Line) bool { return ids[l.ProductID] }
	}

	all, err := s.Repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	out := make([]Movement, 0, len(all))
	for _, m := range all {
		if !filter.Range.Contains(m.MovedAt) ||
			(filter.Direction != "" && m.Direction != filter.Direction) ||
			(filter.Origin != "" && m.Origin != filter.Origin) ||
			(filter.OwnerID != "" && m.OwnerID != filter.OwnerID) {
			continue
		}
		if !anyLine(m.Lines, lineMatch) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MovedAt.Equal(out[j].MovedAt) {
			return out[i].MovedAt.After(out[j].MovedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, lineMatch, nil
}

func anyLine(lines []Line, match func(Line) bool) bool {
	for _, l := range lines {
		if match(l) {
			return true
		}
	}
	return false
}

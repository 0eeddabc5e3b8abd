package stock

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Repository persists movements and products. Get*/Find* return (nil, nil)
// when the row does not exist.
type Repository interface {
	InsertMovement(ctx context.Context, m Movement) error
	UpdateMovement(ctx context.Context, m Movement) error
	DeleteMovement(ctx context.Context, id string) error
	GetMovement(ctx context.Context, id string) (*Movement, error)
	FindMovementByCollection(ctx context.Context, collectionID string) (*Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ProductLines(ctx context.Context, productID string) ([]ProductLine, error)

	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type Service struct {
	Repo   Repository
	Tx     generic.TxRunner
	Logger *zap.Logger
	Audit  audit.Sink
}

func NewService(repo Repository, tx generic.TxRunner, logger *zap.Logger, sink audit.Sink) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{Repo: repo, Tx: tx, Logger: logger.Named("stock"), Audit: sink}
}

// =============================================================================
// LINKER - One movement per collection
// =============================================================================

// Link upserts the movement of a collection. The first call inserts, a call
// with identical data is a no-op, a call with changed data updates the same
// row in place. changed is false for the no-op case.
func (s *Service) Link(ctx context.Context, in LinkInput) (m *Movement, changed bool, err error) {
	defer func() {
		s.record(ctx, audit.ActionMovementLinked, err, map[string]any{
			"collection_id": in.CollectionID,
			"movement_id":   movementID(m),
			"changed":       changed,
		})
	}()

	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.Repo.FindMovementByCollection(ctx, in.CollectionID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		next := Movement{
			Direction:      in.Direction,
			Origin:         OriginCollection,
			CollectionID:   in.CollectionID,
			DocumentNumber: in.DocumentNumber,
			Counterparty:   in.Counterparty,
			MovedAt:        in.MovedAt,
			Lines:          in.Lines,
			OwnerID:        in.OwnerID,
			UpdatedAt:      now,
		}

		if existing == nil {
			next.ID = uuid.NewString()
			next.CreatedBy = generic.ActorFrom(ctx)
			next.CreatedAt = now
			if err := s.Repo.InsertMovement(ctx, next); err != nil {
				return err
			}
			m, changed = &next, true
			return nil
		}

		if existing.sameContent(next) {
			m, changed = existing, false
			return nil
		}

		next.ID = existing.ID
		next.CreatedBy = existing.CreatedBy
		next.CreatedAt = existing.CreatedAt
		if err := s.Repo.UpdateMovement(ctx, next); err != nil {
			return err
		}
		m, changed = &next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return m, changed, nil
}

// Unlink removes the movement of a deleted collection. A collection
// without a movement is not an error.
func (s *Service) Unlink(ctx context.Context, collectionID string) error {
	var removed string
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.Repo.FindMovementByCollection(ctx, collectionID)
		if err != nil || existing == nil {
			return err
		}
		removed = existing.ID
		return s.Repo.DeleteMovement(ctx, existing.ID)
	})
	s.record(ctx, audit.ActionMovementUnlinked, err, map[string]any{
		"collection_id": collectionID,
		"movement_id":   removed,
	})
	return err
}

// =============================================================================
// MANUAL MOVEMENTS
// =============================================================================

func (s *Service) CreateManual(ctx context.Context, in MovementInput) (*Movement, error) {
	var out *Movement
	err := s.validateManual(ctx, in)
	if err == nil {
		err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
			now := time.Now().UTC()
			m := Movement{
				ID:             uuid.NewString(),
				Direction:      in.Direction,
				Origin:         OriginManual,
				DocumentNumber: in.DocumentNumber,
				Counterparty:   in.Counterparty,
				MovedAt:        in.MovedAt,
				Lines:          in.Lines,
				OwnerID:        in.OwnerID,
				CreatedBy:      generic.ActorFrom(ctx),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.checkStock(ctx, nil, &m); err != nil {
				return err
			}
			if err := s.Repo.InsertMovement(ctx, m); err != nil {
				return err
			}
			out = &m
			return nil
		})
	}

	s.record(ctx, audit.ActionMovementCreated, err, map[string]any{
		"direction":   in.Direction,
		"movement_id": movementID(out),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) UpdateManual(ctx context.Context, id string, in MovementInput) (*Movement, error) {
	var out *Movement
	err := s.validateManual(ctx, in)
	if err == nil {
		err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
			current, err := s.editable(ctx, id)
			if err != nil {
				return err
			}

			next := *current
			next.Direction = in.Direction
			next.DocumentNumber = in.DocumentNumber
			next.Counterparty = in.Counterparty
			next.MovedAt = in.MovedAt
			next.Lines = in.Lines
			if in.OwnerID != "" {
				next.OwnerID = in.OwnerID
			}
			next.UpdatedAt = time.Now().UTC()

			if err := s.checkStock(ctx, current, &next); err != nil {
				return err
			}
			if err := s.Repo.UpdateMovement(ctx, next); err != nil {
				return err
			}
			out = &next
			return nil
		})
	}

	s.record(ctx, audit.ActionMovementUpdated, err, map[string]any{"movement_id": id})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) DeleteManual(ctx context.Context, id string) error {
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.editable(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkStock(ctx, current, nil); err != nil {
			return err
		}
		return s.Repo.DeleteMovement(ctx, id)
	})
	s.record(ctx, audit.ActionMovementDeleted, err, map[string]any{"movement_id": id})
	return err
}

func (s *Service) GetMovement(ctx context.Context, id string) (*Movement, error) {
	m, err := s.Repo.GetMovement(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, generic.NotFound("movement", id)
	}
	return m, nil
}

// editable loads a movement that may be changed directly.
func (s *Service) editable(ctx context.Context, id string) (*Movement, error) {
	m, err := s.GetMovement(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsLinked() {
		return nil, generic.Detail(generic.ErrLinkedMovement,
			"movement %s belongs to collection %s and must be changed through it", id, m.CollectionID)
	}
	return m, nil
}

func (s *Service) validateManual(ctx context.Context, in MovementInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	for _, l := range in.Lines {
		p, err := s.Repo.GetProduct(ctx, l.ProductID)
		if err != nil {
			return err
		}
		if p == nil {
			return generic.NotFound("product", l.ProductID)
		}
	}
	return nil
}

// checkStock replaces prev with next in every affected product balance and
// rejects the change when a balance would end negative and lower than
// before. Balances are read through ctx, so inside WithTx the check and the
// write see the same state.
func (s *Service) checkStock(ctx context.Context, prev, next *Movement) error {
	delta := map[string]decimal.Decimal{}
	if prev != nil {
		for product, q := range prev.Contribution() {
			delta[product] = delta[product].Sub(q)
		}
	}
	if next != nil {
		for product, q := range next.Contribution() {
			delta[product] = delta[product].Add(q)
		}
	}

	products := make([]string, 0, len(delta))
	for product, d := range delta {
		if d.IsNegative() {
			products = append(products, product)
		}
	}
	sort.Strings(products)

	for _, product := range products {
		balance, err := s.balance(ctx, product)
		if err != nil {
			return err
		}
		after := balance.Add(delta[product])
		if after.IsNegative() {
			return generic.Detail(generic.ErrInsufficientStock,
				"product %s has %s available, the movement needs %s", product, balance, delta[product].Neg())
		}
	}
	return nil
}

// =============================================================================
// BALANCES AND PRODUCTS
// =============================================================================

// ProductBalance folds every movement line of a product.
func (s *Service) ProductBalance(ctx context.Context, productID string) (decimal.Decimal, error) {
	p, err := s.Repo.GetProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if p == nil {
		return decimal.Zero, generic.NotFound("product", productID)
	}
	return s.balance(ctx, productID)
}

func (s *Service) balance(ctx context.Context, productID string) (decimal.Decimal, error) {
	lines, err := s.Repo.ProductLines(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return Balance(lines), nil
}

func (s *Service) SaveProduct(ctx context.Context, p Product) (*Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, generic.NewValidationError("NAME_REQUIRED", "product name is required")
	}
	if p.Unit == "" {
		p.Unit = "kg"
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := s.Repo.SaveProduct(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns products whose name contains search, by name.
func (s *Service) ListProducts(ctx context.Context, search string) ([]Product, error) {
	all, err := s.Repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	term := strings.ToLower(strings.TrimSpace(search))
	out := make([]Product, 0, len(all))
	for _, p := range all {
		if term == "" || strings.Contains(strings.ToLower(p.Name), term) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) record(ctx context.Context, action audit.Action, err error, payload map[string]any) {
	if err != nil {
		s.Logger.Warn("stock operation rejected",
			zap.String("action", string(action)),
			zap.String("code", generic.CodeOf(err)),
			zap.Error(err),
		)
	}
	// joined an outer transaction: the caller's event carries the outcome
	if generic.InTx(ctx) {
		return
	}
	s.Audit.Record(ctx, audit.NewEvent(ctx, action, err, payload))
}

func movementID(m *Movement) string {
	if m == nil {
		return ""
	}
	return m.ID
}

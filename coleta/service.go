package coleta

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"go.uber.org/zap"
)

// Repository persists collections. GetCollection returns (nil, nil) when
// the row does not exist.
type Repository interface {
	InsertCollection(ctx context.Context, c Collection) error
	UpdateCollection(ctx context.Context, c Collection) error
	DeleteCollection(ctx context.Context, id string) error
	GetCollection(ctx context.Context, id string) (*Collection, error)
	ListCollections(ctx context.Context, clientID string) ([]Collection, error)
}

type Service struct {
	Repo     Repository
	Tx       generic.TxRunner
	Resolver *pricing.Resolver
	Finance  *finance.Service
	Stock    *stock.Service
	Logger   *zap.Logger
	Audit    audit.Sink

	// FallbackFactor overrides the exchange factor of the manual fallback.
	FallbackFactor int
}

func NewService(
	repo Repository,
	tx generic.TxRunner,
	resolver *pricing.Resolver,
	fin *finance.Service,
	stk *stock.Service,
	logger *zap.Logger,
	sink audit.Sink,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		Repo:     repo,
		Tx:       tx,
		Resolver: resolver,
		Finance:  fin,
		Stock:    stk,
		Logger:   logger.Named("coleta"),
		Audit:    sink,
	}
}

// =============================================================================
// REGISTER
// =============================================================================

func (s *Service) Register(ctx context.Context, in Input) (*Collection, error) {
	c, err := s.register(ctx, in)
	s.record(ctx, audit.ActionCollectionCreated, err, map[string]any{
		"client_id":     in.ClientID,
		"quantity_kg":   in.QuantityKg.String(),
		"collection_id": collectionID(c),
	})
	return c, err
}

func (s *Service) register(ctx context.Context, in Input) (*Collection, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	snapshot, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	outcome, err := snapshot.Outcome(in.QuantityKg)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := Collection{
		ID:                 uuid.NewString(),
		ClientID:           in.ClientID,
		Counterparty:       in.Counterparty,
		CollectedAt:        in.CollectedAt,
		QuantityKg:         in.QuantityKg,
		Pricing:            snapshot,
		Outcome:            outcome,
		Flow:               in.flow(),
		ProductID:          in.ProductID,
		DeliveredProductID: in.DeliveredProductID,
		DocumentNumber:     in.DocumentNumber,
		OwnerID:            in.OwnerID,
		CreatedBy:          generic.ActorFrom(ctx),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		if c.payable() {
			entry, err := s.Finance.CreateEntry(ctx, c.entryInput(in))
			if err != nil {
				return err
			}
			c.EntryID = entry.ID
		}
		if c.QuantityKg.IsPositive() {
			m, _, err := s.Stock.Link(ctx, c.linkInput())
			if err != nil {
				return err
			}
			c.MovementID = m.ID
		}
		return s.Repo.InsertCollection(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("collection registered",
		zap.String("collection_id", c.ID),
		zap.String("client_id", c.ClientID),
		zap.String("mode", string(c.Pricing.Mode)),
		zap.Bool("fallback", c.Pricing.Fallback),
		zap.Int64("delivered_units", c.Outcome.DeliveredUnits),
		zap.String("amount", c.Outcome.Amount.String()),
	)
	return &c, nil
}

// resolve picks the pricing, falling back to the manual default only when
// the caller asked for it.
func (s *Service) resolve(ctx context.Context, in Input) (pricing.Pricing, error) {
	p, err := s.Resolver.Resolve(ctx, in.ClientID, in.Contract)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, generic.ErrNoActiveContract) || !in.AllowFallback {
		return pricing.Pricing{}, err
	}

	p = pricing.ManualDefault()
	if s.FallbackFactor > 0 {
		p.ExchangeFactor = s.FallbackFactor
	}
	s.Logger.Warn("no active contract, using manual default pricing",
		zap.String("client_id", in.ClientID),
		zap.Int("exchange_factor", p.ExchangeFactor),
	)
	return p, nil
}

// =============================================================================
// EDIT
// =============================================================================

// Edit changes a collection and re-derives its entry and movement from the
// pricing snapshot taken at registration. in.Contract and in.AllowFallback
// are ignored.
func (s *Service) Edit(ctx context.Context, id string, in Input) (*Collection, error) {
	var out *Collection
	err := in.Validate()
	if err == nil {
		err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
			c, err := s.Get(ctx, id)
			if err != nil {
				return err
			}

			// the pricing snapshot belongs to the original client
			if in.ClientID != c.ClientID {
				return generic.NewValidationError("CLIENT_CHANGE_NOT_ALLOWED",
					"a collection cannot move to another client; delete it and register again")
			}
			outcome, err := c.Pricing.Outcome(in.QuantityKg)
			if err != nil {
				return err
			}
			c.Counterparty = in.Counterparty
			c.CollectedAt = in.CollectedAt
			c.QuantityKg = in.QuantityKg
			c.Outcome = outcome
			c.Flow = in.flow()
			c.ProductID = in.ProductID
			c.DeliveredProductID = in.DeliveredProductID
			c.DocumentNumber = in.DocumentNumber
			if in.OwnerID != "" {
				c.OwnerID = in.OwnerID
			}
			c.UpdatedAt = time.Now().UTC()

			if err := s.syncEntry(ctx, c, in); err != nil {
				return err
			}
			if err := s.syncMovement(ctx, c); err != nil {
				return err
			}
			if err := s.Repo.UpdateCollection(ctx, *c); err != nil {
				return err
			}
			out = c
			return nil
		})
	}

	s.record(ctx, audit.ActionCollectionEdited, err, map[string]any{
		"collection_id": id,
		"quantity_kg":   in.QuantityKg.String(),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) syncEntry(ctx context.Context, c *Collection, in Input) error {
	switch {
	case c.EntryID == "" && c.payable():
		entry, err := s.Finance.CreateEntry(ctx, c.entryInput(in))
		if err != nil {
			return err
		}
		c.EntryID = entry.ID
	case c.EntryID != "" && c.payable():
		if _, err := s.Finance.ReplaceSchedule(ctx, c.EntryID, c.entryInput(in)); err != nil {
			return err
		}
	case c.EntryID != "":
		if _, err := s.Finance.CancelEntry(ctx, c.EntryID, "collection value dropped to zero"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) syncMovement(ctx context.Context, c *Collection) error {
	if !c.QuantityKg.IsPositive() {
		if err := s.Stock.Unlink(ctx, c.ID); err != nil {
			return err
		}
		c.MovementID = ""
		return nil
	}
	m, _, err := s.Stock.Link(ctx, c.linkInput())
	if err != nil {
		return err
	}
	c.MovementID = m.ID
	return nil
}

// =============================================================================
// DELETE / READ
// =============================================================================

// Delete removes a collection together with its movement and cancels its
// entry. A paid entry blocks the delete.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.EntryID != "" {
			if _, err := s.Finance.CancelEntry(ctx, c.EntryID, "collection deleted"); err != nil {
				return err
			}
		}
		if err := s.Stock.Unlink(ctx, c.ID); err != nil {
			return err
		}
		return s.Repo.DeleteCollection(ctx, c.ID)
	})
	s.record(ctx, audit.ActionCollectionDeleted, err, map[string]any{"collection_id": id})
	return err
}

func (s *Service) Get(ctx context.Context, id string) (*Collection, error) {
	c, err := s.Repo.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, generic.NotFound("collection", id)
	}
	return c, nil
}

// List returns a client's collections, newest first. An empty clientID
// lists every collection.
func (s *Service) List(ctx context.Context, clientID string) ([]Collection, error) {
	return s.Repo.ListCollections(ctx, clientID)
}

func (s *Service) record(ctx context.Context, action audit.Action, err error, payload map[string]any) {
	if err != nil {
		s.Logger.Warn("collection operation rejected",
			zap.String("action", string(action)),
			zap.String("code", generic.CodeOf(err)),
			zap.Error(err),
		)
	}
	s.Audit.Record(ctx, audit.NewEvent(ctx, action, err, payload))
}

func collectionID(c *Collection) string {
	if c == nil {
		return ""
	}
	return c.ID
}

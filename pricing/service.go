package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/generic"
	"go.uber.org/zap"
)

// Repository persists contracts.
type Repository interface {
	ContractReader
	SaveContract(ctx context.Context, c Contract) error
	GetContract(ctx context.Context, id string) (*Contract, error)
}

// Service registers contracts and exposes the resolver.
type Service struct {
	Repo     Repository
	Resolver *Resolver
	Logger   *zap.Logger
	Audit    audit.Sink
}

// NewService wires the contract registry. Set Audit to record saves; it
// defaults to a nop sink.
func NewService(repo Repository, clock generic.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Repo:     repo,
		Resolver: NewResolver(repo, clock, logger),
		Logger:   logger.Named("pricing"),
		Audit:    audit.Nop{},
	}
}

// SaveContract validates and stores a contract. A missing ID creates one.
func (s *Service) SaveContract(ctx context.Context, c Contract) (*Contract, error) {
	saved, err := s.saveContract(ctx, c)
	if err != nil {
		s.Logger.Warn("contract rejected", zap.String("code", generic.CodeOf(err)), zap.Error(err))
	}
	id := c.ID
	if saved != nil {
		id = saved.ID
	}
	s.Audit.Record(ctx, audit.NewEvent(ctx, audit.ActionContractSaved, err, map[string]any{
		"contract_id": id,
		"client_id":   c.ClientID,
		"mode":        c.Mode,
	}))
	return saved, err
}

func (s *Service) saveContract(ctx context.Context, c Contract) (*Contract, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Mode != ModeCompra {
		c.UnitPrice = nil
	}
	if c.Mode != ModeTroca {
		c.ExchangeFactor = 0
	}

	if err := s.Repo.SaveContract(ctx, c); err != nil {
		return nil, err
	}
	s.Logger.Info("contract saved",
		zap.String("contract_id", c.ID),
		zap.String("client_id", c.ClientID),
		zap.String("mode", string(c.Mode)),
		zap.String("status", string(c.Status)),
	)
	return &c, nil
}

func (s *Service) GetContract(ctx context.Context, id string) (*Contract, error) {
	c, err := s.Repo.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, generic.NotFound("contract", id)
	}
	return c, nil
}

func (s *Service) ListContracts(ctx context.Context, clientID string) ([]Contract, error) {
	return s.Repo.ListContracts(ctx, clientID)
}

// Resolve delegates to the resolver.
func (s *Service) Resolve(ctx context.Context, clientID string, override *Contract) (Pricing, error) {
	return s.Resolver.Resolve(ctx, clientID, override)
}

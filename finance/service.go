package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository persists entries, installments and payments. Get* methods
// return (nil, nil) when the row does not exist.
type Repository interface {
	InsertEntry(ctx context.Context, e Entry) error
	UpdateEntry(ctx context.Context, e Entry) error
	ReplaceInstallments(ctx context.Context, entryID string, installments []Installment) error
	GetEntry(ctx context.Context, id string) (*Entry, error)
	FindEntryByCollection(ctx context.Context, collectionID string) (*Entry, error)

	// ListEntries may pre-filter by range, direction and owner. Status and
	// search are always applied by the service.
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)

	GetInstallment(ctx context.Context, id string) (*Installment, error)

	// SaveInstallmentState writes paid, canceled and version only when the
	// stored version still equals expectedVersion, otherwise it returns
	// generic.ErrConcurrentModification.
	SaveInstallmentState(ctx context.Context, inst Installment, expectedVersion int) error

	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, installmentID string) ([]Payment, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Repo   Repository
	Tx     generic.TxRunner
	Clock  generic.Clock
	Logger *zap.Logger
	Audit  audit.Sink
}

// NewService wires a finance service. Nil clock, logger and sink fall back
// to the system clock, a nop logger and a nop sink.
func NewService(repo Repository, tx generic.TxRunner, clock generic.Clock, logger *zap.Logger, sink audit.Sink) *Service {
	if clock == nil {
		clock = generic.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{Repo: repo, Tx: tx, Clock: clock, Logger: logger.Named("finance"), Audit: sink}
}

// CreateEntry builds and persists an entry with all of its installments in
// one transaction. Nothing is written when the schedule is invalid.
func (s *Service) CreateEntry(ctx context.Context, in EntryInput) (*Entry, error) {
	entry, err := s.createEntry(ctx, in)
	s.record(ctx, audit.ActionEntryCreated, err, map[string]any{
		"direction":     in.Direction,
		"total":         in.Total.String(),
		"collection_id": in.CollectionID,
		"entry_id":      entryID(entry),
	})
	return entry, err
}

func (s *Service) createEntry(ctx context.Context, in EntryInput) (*Entry, error) {
	id := uuid.NewString()
	installments, err := BuildInstallments(id, in)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := Entry{
		ID:           id,
		Direction:    in.Direction,
		Counterparty: in.Counterparty,
		Description:  in.Description,
		Total:        in.Total.Round(),
		IssueDate:    in.IssueDate,
		CostCenter:   in.CostCenter,
		CollectionID: in.CollectionID,
		OwnerID:      in.OwnerID,
		Installments: installments,
		CreatedBy:    generic.ActorFrom(ctx),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		return s.Repo.InsertEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("entry created",
		zap.String("entry_id", entry.ID),
		zap.String("direction", string(entry.Direction)),
		zap.String("total", entry.Total.String()),
		zap.Int("installments", len(installments)),
	)
	return &entry, nil
}

// ReplaceSchedule rewrites the header and regenerates every installment of
// an entry. It fails with ErrInstallmentLocked once any installment has a
// recorded payment.
func (s *Service) ReplaceSchedule(ctx context.Context, id string, in EntryInput) (*Entry, error) {
	var out *Entry
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.Repo.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return generic.NotFound("entry", id)
		}
		if current.HasPayments() {
			return generic.Detail(generic.ErrInstallmentLocked, "entry %s has installments with recorded payments", id)
		}

		installments, err := BuildInstallments(id, in)
		if err != nil {
			return err
		}

		next := *current
		next.Direction = in.Direction
		next.Counterparty = in.Counterparty
		next.Description = in.Description
		next.CostCenter = in.CostCenter
		next.Total = in.Total.Round()
		next.IssueDate = in.IssueDate
		if in.CollectionID != "" {
			next.CollectionID = in.CollectionID
		}
		if in.OwnerID != "" {
			next.OwnerID = in.OwnerID
		}
		next.Installments = installments
		next.UpdatedAt = time.Now().UTC()

		if err := s.Repo.UpdateEntry(ctx, next); err != nil {
			return err
		}
		if err := s.Repo.ReplaceInstallments(ctx, id, installments); err != nil {
			return err
		}
		out = &next
		return nil
	})

	s.record(ctx, audit.ActionScheduleReplaced, err, map[string]any{
		"entry_id": id,
		"total":    in.Total.String(),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelEntry cancels every open installment of an entry that has no
// payments. The entry row is kept for history.
func (s *Service) CancelEntry(ctx context.Context, id, reason string) (*Entry, error) {
	var out *Entry
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		entry, err := s.Repo.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return generic.NotFound("entry", id)
		}
		if entry.HasPayments() {
			return generic.Detail(generic.ErrInstallmentLocked, "entry %s has recorded payments and cannot be canceled", id)
		}

		for i, inst := range entry.Installments {
			if inst.Canceled {
				continue
			}
			prev := inst.Version
			inst.Canceled = true
			inst.Version++
			if err := s.Repo.SaveInstallmentState(ctx, inst, prev); err != nil {
				return err
			}
			entry.Installments[i] = inst
		}
		out = entry
		return nil
	})

	s.record(ctx, audit.ActionEntryCanceled, err, map[string]any{
		"entry_id": id,
		"reason":   reason,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetEntry(ctx context.Context, id string) (*Entry, error) {
	entry, err := s.Repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, generic.NotFound("entry", id)
	}
	return entry, nil
}

func (s *Service) GetInstallment(ctx context.Context, id string) (*Installment, error) {
	inst, err := s.Repo.GetInstallment(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, generic.NotFound("installment", id)
	}
	return inst, nil
}

// FindByCollection returns the entry derived from a collection, or nil.
func (s *Service) FindByCollection(ctx context.Context, collectionID string) (*Entry, error) {
	return s.Repo.FindEntryByCollection(ctx, collectionID)
}

func (s *Service) record(ctx context.Context, action audit.Action, err error, payload map[string]any) {
	if err != nil {
		s.Logger.Warn("finance operation rejected",
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

func entryID(e *Entry) string {
	if e == nil {
		return ""
	}
	return e.ID
}

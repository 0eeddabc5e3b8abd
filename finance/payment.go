package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// PAYMENT INPUT / RESULT
// =============================================================================

type PaymentInput struct {
	InstallmentID string
	Amount        generic.Amount
	PaidAt        generic.Date // zero means today
	Method        PaymentMethod
	AccountID     string
	Note          string
}

func (in PaymentInput) Validate() error {
	if in.InstallmentID == "" {
		return generic.NewValidationError("INSTALLMENT_REQUIRED", "installment id is required")
	}
	if !in.Method.IsValid() {
		return generic.NewValidationError("INVALID_METHOD", fmt.Sprintf("unknown payment method %q", in.Method))
	}
	return nil
}

// PaymentResult is the structured outcome of register_payment. Every
// rejection carries a stable code, never a raw persistence error.
type PaymentResult struct {
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	PaymentID string `json:"payment_id,omitempty"`
}

// ResultOf converts a RegisterPayment return pair into a PaymentResult.
func ResultOf(p *Payment, err error) PaymentResult {
	if err != nil {
		msg := err.Error()
		if generic.KindOf(err) == generic.KindInternal {
			msg = "payment could not be recorded"
		}
		return PaymentResult{
			Code:    generic.CodeOf(err),
			Kind:    string(generic.KindOf(err)),
			Message: msg,
		}
	}
	return PaymentResult{Success: true, Message: "payment recorded", PaymentID: p.ID}
}

// =============================================================================
// REGISTER PAYMENT
// =============================================================================

// RegisterPayment applies a payment to one installment.
//
// Rules, in order:
//  1. paid or canceled installment       -> ErrAlreadySettled
//  2. amount <= 0                        -> ErrInvalidAmount
//  3. amount > balance (to the cent)     -> ErrExceedsBalance
//  4. paid += amount, payment appended
//
// The balance check, the installment update and the payment insert share
// one transaction, and the installment is written under its version. A lost
// race is retried once; the retry sees the winner's paid amount.
func (s *Service) RegisterPayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	p, err := s.registerPayment(ctx, in)
	if generic.IsRetryable(err) {
		s.Logger.Info("payment lost a version race, retrying", zap.String("installment_id", in.InstallmentID))
		p, err = s.registerPayment(ctx, in)
	}

	s.record(ctx, audit.ActionPaymentRegistered, err, map[string]any{
		"installment_id": in.InstallmentID,
		"amount":         in.Amount.String(),
		"method":         in.Method,
		"payment_id":     paymentID(p),
	})
	return p, err
}

func (s *Service) registerPayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out *Payment
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		inst, err := s.Repo.GetInstallment(ctx, in.InstallmentID)
		if err != nil {
			return err
		}
		if inst == nil {
			return generic.NotFound("installment", in.InstallmentID)
		}

		if inst.IsSettled() {
			return generic.Detail(generic.ErrAlreadySettled, "installment %s is %s", inst.ID, inst.StatusAt(s.Clock()))
		}

		amount := in.Amount.Round()
		if !amount.IsPositive() {
			return generic.Detail(generic.ErrInvalidAmount, "payment amount must be positive, got %s", amount)
		}

		balance := inst.Balance().Round()
		if amount.GreaterThan(balance) {
			return generic.Detail(generic.ErrExceedsBalance, "payment %s exceeds the open balance %s", amount, balance)
		}

		prev := inst.Version
		inst.Paid = inst.Paid.Add(amount).Round()
		inst.Version++
		if err := s.Repo.SaveInstallmentState(ctx, *inst, prev); err != nil {
			return err
		}

		paidAt := in.PaidAt
		if paidAt.IsZero() {
			paidAt = s.Clock()
		}
		accountID := in.AccountID
		if accountID == "" {
			accountID = inst.AccountID
		}
		p := Payment{
			ID:            uuid.NewString(),
			InstallmentID: inst.ID,
			EntryID:       inst.EntryID,
			Amount:        amount,
			PaidAt:        paidAt,
			Method:        in.Method,
			AccountID:     accountID,
			Note:          in.Note,
			CreatedBy:     generic.ActorFrom(ctx),
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.Repo.InsertPayment(ctx, p); err != nil {
			return err
		}

		s.Logger.Info("payment registered",
			zap.String("payment_id", p.ID),
			zap.String("installment_id", inst.ID),
			zap.String("amount", amount.String()),
			zap.String("status", string(inst.StatusAt(s.Clock()))),
		)
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelInstallment is the explicit terminal action. A paid installment
// cannot be canceled.
func (s *Service) CancelInstallment(ctx context.Context, id string) (*Installment, error) {
	var out *Installment
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		inst, err := s.Repo.GetInstallment(ctx, id)
		if err != nil {
			return err
		}
		if inst == nil {
			return generic.NotFound("installment", id)
		}
		if inst.IsSettled() {
			return generic.Detail(generic.ErrAlreadySettled, "installment %s is %s", id, inst.StatusAt(s.Clock()))
		}

		prev := inst.Version
		inst.Canceled = true
		inst.Version++
		if err := s.Repo.SaveInstallmentState(ctx, *inst, prev); err != nil {
			return err
		}
		out = inst
		return nil
	})

	s.record(ctx, audit.ActionInstallmentCanceled, err, map[string]any{"installment_id": id})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPayments returns the receipt history of an installment, oldest first.
func (s *Service) ListPayments(ctx context.Context, installmentID string) ([]Payment, error) {
	if _, err := s.GetInstallment(ctx, installmentID); err != nil {
		return nil, err
	}
	return s.Repo.ListPayments(ctx, installmentID)
}

func paymentID(p *Payment) string {
	if p == nil {
		return ""
	}
	return p.ID
}


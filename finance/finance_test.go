package finance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var today = generic.NewDate(2024, time.March, 15)

func amt(s string) generic.Amount { return generic.NewAmountFromString(s) }

func newService(t *testing.T) (*finance.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return finance.NewService(store, store, generic.FixedClock(today), nil, nil), store
}

// receivable is 1000.00 with a 200.00 down payment and two 400.00
// installments due in 30 and 60 days.
func receivable() finance.EntryInput {
	return finance.EntryInput{
		Direction:        finance.DirectionCredit,
		Counterparty:     finance.Counterparty{Name: "Hotel Mar Azul", TaxID: "98.765.432/0001-10"},
		Description:      "Venda de sabão",
		Total:            amt("1000.00"),
		IssueDate:        today,
		DownPayment:      amt("200.00"),
		InstallmentCount: 2,
		Schedule: []finance.ScheduledInstallment{
			{DueDate: today.AddDays(30), Amount: amt("400.00")},
			{DueDate: today.AddDays(60), Amount: amt("400.00")},
		},
	}
}

func pay(id, amount string) finance.PaymentInput {
	return finance.PaymentInput{InstallmentID: id, Amount: amt(amount), Method: finance.MethodPix}
}

// =============================================================================
// SCHEDULE
// =============================================================================

func TestCreateEntry_DownPaymentAndSchedule(t *testing.T) {
	svc, _ := newService(t)

	entry, err := svc.CreateEntry(context.Background(), receivable())
	require.NoError(t, err)

	require.Len(t, entry.Installments, 3)
	down, ok := entry.DownPayment()
	require.True(t, ok)
	assert.Equal(t, "200.00", down.Expected.String())
	assert.Equal(t, today, down.DueDate)
	assert.Equal(t, "Entrada", down.Label())
	assert.Equal(t, "Parcela 2", entry.Installments[2].Label())

	sum := generic.ZeroAmount()
	for _, inst := range entry.Installments {
		sum = sum.Add(inst.Expected)
		assert.Equal(t, 1, inst.Version)
		assert.Equal(t, entry.ID, inst.EntryID)
	}
	assert.True(t, sum.Equal(entry.Total))
	assert.Equal(t, finance.StatusPending, finance.EntryStatus(*entry, today))
}

func TestCreateEntry_SingleInstallment(t *testing.T) {
	svc, _ := newService(t)

	entry, err := svc.CreateEntry(context.Background(), finance.EntryInput{
		Direction:     finance.DirectionDebit,
		Counterparty:  finance.Counterparty{Name: "Fornecedor"},
		Total:         amt("150,00"),
		IssueDate:     today,
		SingleDueDate: today.AddDays(10),
	})
	require.NoError(t, err)

	require.Len(t, entry.Installments, 1)
	assert.Equal(t, 1, entry.Installments[0].Sequence)
	assert.Equal(t, "150.00", entry.Installments[0].Expected.String())
}

func TestCreateEntry_RejectsInvalidSchedules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*finance.EntryInput)
		target error
	}{
		{"sum mismatch", func(in *finance.EntryInput) { in.Schedule[1].Amount = amt("399.99") }, generic.ErrScheduleMismatch},
		{"count mismatch", func(in *finance.EntryInput) { in.InstallmentCount = 3 }, generic.ErrScheduleMismatch},
		{"zero total", func(in *finance.EntryInput) { in.Total = amt("0") }, generic.ErrInvalidAmount},
		{"negative down payment", func(in *finance.EntryInput) { in.DownPayment = amt("-1") }, generic.ErrInvalidAmount},
		{"down payment equals total", func(in *finance.EntryInput) { in.DownPayment = amt("1000.00") }, generic.ErrInvalidAmount},
		{"zero installment", func(in *finance.EntryInput) {
			in.Schedule[0].Amount = amt("0")
			in.Schedule[1].Amount = amt("800.00")
		}, generic.ErrInvalidAmount},
		{"missing counterparty", func(in *finance.EntryInput) { in.Counterparty.Name = "" }, generic.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newService(t)
			in := receivable()
			tc.mutate(&in)

			_, err := svc.CreateEntry(context.Background(), in)

			assert.ErrorIs(t, err, tc.target)
			entries, listErr := store.ListEntries(context.Background(), finance.EntryFilter{})
			require.NoError(t, listErr)
			assert.Empty(t, entries, "nothing is written for a rejected schedule")
		})
	}
}

func TestCreateEntry_CentTolerance(t *testing.T) {
	// GIVEN: 100.00 split in three with the remainder on the last row
	svc, _ := newService(t)
	in := finance.EntryInput{
		Direction:    finance.DirectionCredit,
		Counterparty: finance.Counterparty{Name: "Cliente"},
		Total:        amt("100.00"),
		IssueDate:    today,
		Schedule: []finance.ScheduledInstallment{
			{DueDate: today.AddDays(30), Amount: amt("33.33")},
			{DueDate: today.AddDays(60), Amount: amt("33.33")},
			{DueDate: today.AddDays(90), Amount: amt("33.34")},
		},
	}

	// WHEN
	entry, err := svc.CreateEntry(context.Background(), in)

	// THEN: accepted, sequences start at 1 without a down payment
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Installments[0].Sequence)
	_, ok := entry.DownPayment()
	assert.False(t, ok)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRegisterPayment_PartialThenFull(t *testing.T) {
	svc, _ := newService(t)
	ctx := generic.WithActor(context.Background(), "u-7")
	entry, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)
	first := entry.Installments[1]

	// WHEN: 150 then 250 are paid on the first 400 installment
	p1, err := svc.RegisterPayment(ctx, pay(first.ID, "150.00"))
	require.NoError(t, err)
	inst, err := svc.GetInstallment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusPartiallyPaid, inst.StatusAt(today))
	assert.Equal(t, "250.00", inst.Balance().String())

	_, err = svc.RegisterPayment(ctx, pay(first.ID, "250.00"))
	require.NoError(t, err)

	// THEN: paid, versioned, and the payment history is kept in order
	inst, err = svc.GetInstallment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusPaid, inst.StatusAt(today))
	assert.Equal(t, 3, inst.Version)

	payments, err := svc.ListPayments(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, p1.ID, payments[0].ID)
	assert.Equal(t, "u-7", payments[0].CreatedBy)
	assert.Equal(t, today, payments[0].PaidAt)
	assert.Equal(t, entry.ID, payments[0].EntryID)

	got, err := svc.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	paid, balance := got.Totals()
	assert.Equal(t, "400.00", paid.String())
	assert.Equal(t, "600.00", balance.String())
	assert.Equal(t, finance.StatusPartiallyPaid, finance.EntryStatus(*got, today))
}

func TestRegisterPayment_Rejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	entry, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)
	down := entry.Installments[0]

	_, err = svc.RegisterPayment(ctx, pay(down.ID, "200.01"))
	assert.ErrorIs(t, err, generic.ErrExceedsBalance)

	_, err = svc.RegisterPayment(ctx, pay(down.ID, "0"))
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = svc.RegisterPayment(ctx, finance.PaymentInput{InstallmentID: down.ID, Amount: amt("10"), Method: "cheque"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = svc.RegisterPayment(ctx, pay("missing", "10"))
	assert.True(t, generic.IsNotFound(err))

	_, err = svc.RegisterPayment(ctx, pay(down.ID, "200.00"))
	require.NoError(t, err)
	_, err = svc.RegisterPayment(ctx, pay(down.ID, "1.00"))
	assert.ErrorIs(t, err, generic.ErrAlreadySettled)

	payments, err := svc.ListPayments(ctx, down.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1, "rejected payments leave no trace")
}

func TestRegisterPayment_ConcurrentPaymentsNeverOverpay(t *testing.T) {
	// GIVEN: a 400.00 installment and two clients paying 300.00 at once
	svc, _ := newService(t)
	ctx := context.Background()
	entry, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)
	target := entry.Installments[1]

	// WHEN
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RegisterPayment(ctx, pay(target.ID, "300.00"))
		}(i)
	}
	wg.Wait()

	// THEN: exactly one succeeds, the other sees the reduced balance
	var ok, exceeded int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case generic.CodeOf(err) == "EXCEEDS_BALANCE":
			exceeded++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, exceeded)

	inst, err := svc.GetInstallment(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "300.00", inst.Paid.String())
}

// racyRepo fails the first versioned write as if another writer had won.
type racyRepo struct {
	*memory.Store
	mu       sync.Mutex
	attempts int
}

func (r *racyRepo) SaveInstallmentState(ctx context.Context, inst finance.Installment, expected int) error {
	r.mu.Lock()
	r.attempts++
	first := r.attempts == 1
	r.mu.Unlock()
	if first {
		return generic.Detail(generic.ErrConcurrentModification, "installment %s changed", inst.ID)
	}
	return r.Store.SaveInstallmentState(ctx, inst, expected)
}

func TestRegisterPayment_RetriesLostVersionRace(t *testing.T) {
	store := memory.New()
	repo := &racyRepo{Store: store}
	svc := finance.NewService(repo, store, generic.FixedClock(today), nil, nil)
	ctx := context.Background()
	entry, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)

	p, err := svc.RegisterPayment(ctx, pay(entry.Installments[0].ID, "200.00"))

	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 2, repo.attempts)
	payments, err := svc.ListPayments(ctx, entry.Installments[0].ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestResultOf(t *testing.T) {
	ok := finance.ResultOf(&finance.Payment{ID: "p-1"}, nil)
	assert.True(t, ok.Success)
	assert.Equal(t, "p-1", ok.PaymentID)

	rejected := finance.ResultOf(nil, generic.Detail(generic.ErrExceedsBalance, "too much"))
	assert.False(t, rejected.Success)
	assert.Equal(t, "EXCEEDS_BALANCE", rejected.Code)
	assert.Equal(t, string(generic.KindBusinessRule), rejected.Kind)

	internal := finance.ResultOf(nil, assert.AnError)
	assert.Equal(t, "INTERNAL_ERROR", internal.Code)
	assert.Equal(t, "payment could not be recorded", internal.Message)
}

// =============================================================================
// SCHEDULE REPLACEMENT AND CANCELLATION
// =============================================================================

func TestReplaceSchedule_RegeneratesUntilPaid(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	entry, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)

	// WHEN: no payments yet, the schedule is replaced by a single 1200 row
	next := receivable()
	next.Total = amt("1200.00")
	next.DownPayment = generic.ZeroAmount()
	next.InstallmentCount = 0
	next.Schedule = nil
	next.SingleDueDate = today.AddDays(15)
	replaced, err := svc.ReplaceSchedule(ctx, entry.ID, next)

	// THEN
	require.NoError(t, err)
	require.Len(t, replaced.Installments, 1)
	stored, err := svc.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, stored.Installments, 1)
	assert.Equal(t, "1200.00", stored.Total.String())

	// AND: once paid, the schedule is locked
	_, err = svc.RegisterPayment(ctx, pay(stored.Installments[0].ID, "10.00"))
	require.NoError(t, err)
	_, err = svc.ReplaceSchedule(ctx, entry.ID, receivable())
	assert.ErrorIs(t, err, generic.ErrInstallmentLocked)

	_, err = svc.ReplaceSchedule(ctx, "missing", receivable())
	assert.True(t, generic.IsNotFound(err))
}

func TestCancelEntry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	entry, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)

	canceled, err := svc.CancelEntry(ctx, entry.ID, "duplicated")
	require.NoError(t, err)
	assert.Equal(t, finance.StatusCanceled, finance.EntryStatus(*canceled, today))

	// canceled entries drop out of the default listing
	page, err := svc.ListEntries(ctx, finance.EntryFilter{}, generic.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	page, err = svc.ListEntries(ctx, finance.EntryFilter{Status: finance.StatusCanceled}, generic.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	// an entry with payments cannot be canceled
	paid, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)
	_, err = svc.RegisterPayment(ctx, pay(paid.Installments[0].ID, "200.00"))
	require.NoError(t, err)
	_, err = svc.CancelEntry(ctx, paid.ID, "")
	assert.ErrorIs(t, err, generic.ErrInstallmentLocked)
}

func TestCancelInstallment(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	entry, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)

	inst, err := svc.CancelInstallment(ctx, entry.Installments[2].ID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusCanceled, inst.StatusAt(today))

	_, err = svc.RegisterPayment(ctx, pay(inst.ID, "1.00"))
	assert.ErrorIs(t, err, generic.ErrAlreadySettled)

	_, err = svc.RegisterPayment(ctx, pay(entry.Installments[0].ID, "200.00"))
	require.NoError(t, err)
	_, err = svc.CancelInstallment(ctx, entry.Installments[0].ID)
	assert.ErrorIs(t, err, generic.ErrAlreadySettled)
}

// =============================================================================
// STATUS
// =============================================================================

func TestDeriveStatus(t *testing.T) {
	due := today
	cases := []struct {
		name     string
		paid     string
		due      generic.Date
		canceled bool
		want     finance.Status
	}{
		{"untouched", "0", due, false, finance.StatusPending},
		{"due today is not overdue", "0", today, false, finance.StatusPending},
		{"past due", "0", today.AddDays(-1), false, finance.StatusOverdue},
		{"partial before due", "10", due.AddDays(5), false, finance.StatusPartiallyPaid},
		{"partial past due", "10", today.AddDays(-1), false, finance.StatusOverdue},
		{"paid past due", "100", today.AddDays(-30), false, finance.StatusPaid},
		{"paid within a fraction of a cent", "99.999", due, false, finance.StatusPaid},
		{"canceled wins", "100", due, true, finance.StatusCanceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := finance.DeriveStatus(amt("100"), amt(tc.paid), tc.due, tc.canceled, today)
			assert.Equal(t, tc.want, got)
			// pure: same inputs, same answer
			assert.Equal(t, got, finance.DeriveStatus(amt("100"), amt(tc.paid), tc.due, tc.canceled, today))
		})
	}
}

func TestEntryStatus_IgnoresCanceledRows(t *testing.T) {
	e := finance.Entry{Installments: []finance.Installment{
		{Sequence: 1, Expected: amt("50"), Paid: amt("50"), DueDate: today},
		{Sequence: 2, Expected: amt("50"), Paid: generic.ZeroAmount(), DueDate: today.AddDays(-3), Canceled: true},
	}}
	assert.Equal(t, finance.StatusPaid, finance.EntryStatus(e, today))

	e.Installments[0].Paid = generic.ZeroAmount()
	e.Installments[0].DueDate = today.AddDays(-1)
	assert.Equal(t, finance.StatusOverdue, finance.EntryStatus(e, today))
}

// =============================================================================
// SUMMARY AND LISTING
// =============================================================================

func TestSummaryAndListingAgree(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	rec, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)
	_, err = svc.RegisterPayment(ctx, pay(rec.Installments[0].ID, "200.00"))
	require.NoError(t, err)

	old := receivable()
	old.IssueDate = today.AddDays(-90)
	old.Schedule[0].DueDate = today.AddDays(-60)
	old.Schedule[1].DueDate = today.AddDays(-30)
	_, err = svc.CreateEntry(ctx, old)
	require.NoError(t, err)

	payable := finance.EntryInput{
		Direction:     finance.DirectionDebit,
		Counterparty:  finance.Counterparty{Name: "Fornecedor Óleo", FantasyName: "Óleo Bom"},
		Total:         amt("60.00"),
		IssueDate:     today,
		SingleDueDate: today,
	}
	_, err = svc.CreateEntry(ctx, payable)
	require.NoError(t, err)

	// credito only
	credit := finance.EntryFilter{Direction: finance.DirectionCredit}
	sum, err := svc.Summary(ctx, credit)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.Equal(t, "2000.00", sum.TotalValue.String())
	assert.Equal(t, "200.00", sum.TotalPaid.String())
	assert.Equal(t, "1800.00", sum.TotalBalance.String())

	page, err := svc.ListEntries(ctx, credit, generic.Page{Number: 1, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, sum.Count, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, rec.ID, page.Items[0].Entry.ID, "newest issue date first")
	assert.Equal(t, "800.00", page.Items[0].Balance.String())

	// overdue
	overdue, err := svc.Summary(ctx, finance.EntryFilter{Status: finance.StatusOverdue})
	require.NoError(t, err)
	assert.Equal(t, 1, overdue.Count)

	// range on issue date
	inMarch, err := svc.Summary(ctx, finance.EntryFilter{Range: generic.DateRange{From: today.AddDays(-14), To: today}})
	require.NoError(t, err)
	assert.Equal(t, 2, inMarch.Count)

	// search matches the fantasy name, case-insensitively
	found, err := svc.ListEntries(ctx, finance.EntryFilter{Search: "óleo bom"}, generic.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, found.Total)

	_, err = svc.Summary(ctx, finance.EntryFilter{Range: generic.DateRange{From: today, To: today.AddDays(-1)}})
	assert.ErrorIs(t, err, generic.ErrInvalidRange)
}

func TestListEntries_PageFarPastTheEnd(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateEntry(ctx, receivable())
	require.NoError(t, err)

	// a page number whose offset would overflow int
	page, err := svc.ListEntries(ctx, finance.EntryFilter{}, generic.Page{Number: 461168601842738792, Size: 20})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Total)
}

func TestSummarize_Empty(t *testing.T) {
	sum := finance.Summarize(nil)
	assert.Zero(t, sum.Count)
	assert.True(t, sum.TotalValue.IsZero())
	assert.True(t, sum.TotalBalance.IsZero())
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// SaveContract inserts or replaces a contract.
func (s *Store) SaveContract(ctx context.Context, c pricing.Contract) error {
	var price sql.NullString
	if c.UnitPrice != nil {
		price = nullString(c.UnitPrice.String())
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO contracts (id, client_id, mode, exchange_factor, unit_price, start_date, end_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			mode = excluded.mode,
			exchange_factor = excluded.exchange_factor,
			unit_price = excluded.unit_price,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status`,
		c.ID, c.ClientID, string(c.Mode), c.ExchangeFactor, price,
		formatDate(c.StartDate), formatDate(c.EndDate), string(c.Status), formatTime(c.CreatedAt),
	)
	return mapError(err)
}

func (s *Store) GetContract(ctx context.Context, id string) (*pricing.Contract, error) {
	contracts, err := s.queryContracts(ctx, `WHERE id = ?`, id)
	if err != nil || len(contracts) == 0 {
		return nil, err
	}
	return &contracts[0], nil
}

func (s *Store) ListContracts(ctx context.Context, clientID string) ([]pricing.Contract, error) {
	if clientID == "" {
		return s.queryContracts(ctx, ``)
	}
	return s.queryContracts(ctx, `WHERE client_id = ?`, clientID)
}

func (s *Store) queryContracts(ctx context.Context, where string, args ...any) ([]pricing.Contract, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, client_id, mode, exchange_factor, unit_price, start_date, end_date, status, created_at
		FROM contracts `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pricing.Contract
	for rows.Next() {
		var (
			c                     pricing.Contract
			mode, status, created string
			price, start, end     sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ClientID, &mode, &c.ExchangeFactor, &price, &start, &end, &status, &created); err != nil {
			return nil, err
		}
		c.Mode = pricing.Mode(mode)
		c.Status = pricing.ContractStatus(status)
		if price.Valid {
			p, err := parseAmount(price.String)
			if err != nil {
				return nil, err
			}
			c.UnitPrice = &p
		}
		if c.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		if c.EndDate, err = parseDate(end); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// InsertEntry writes the entry and all of its installments. Callers wrap it
// in WithTx so a failing installment leaves no entry behind.
func (s *Store) InsertEntry(ctx context.Context, e finance.Entry) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO ledger_entries (id, direction, cp_name, cp_fantasy_name, cp_tax_id, description, total,
			issue_date, cost_center, collection_id, owner_id, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Direction), e.Counterparty.Name, nullString(e.Counterparty.FantasyName),
		nullString(e.Counterparty.TaxID), nullString(e.Description), e.Total.String(),
		e.IssueDate.String(), nullString(e.CostCenter), nullString(e.CollectionID), nullString(e.OwnerID),
		e.CreatedBy, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Detail(generic.ErrValidation, "entry %s already exists", e.ID)
		}
		return mapError(err)
	}
	return s.insertInstallments(ctx, e.Installments)
}

func (s *Store) UpdateEntry(ctx context.Context, e finance.Entry) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE ledger_entries SET direction = ?, cp_name = ?, cp_fantasy_name = ?, cp_tax_id = ?,
			description = ?, total = ?, issue_date = ?, cost_center = ?, collection_id = ?,
			owner_id = ?, updated_at = ?
		WHERE id = ?`,
		string(e.Direction), e.Counterparty.Name, nullString(e.Counterparty.FantasyName),
		nullString(e.Counterparty.TaxID), nullString(e.Description), e.Total.String(),
		e.IssueDate.String(), nullString(e.CostCenter), nullString(e.CollectionID),
		nullString(e.OwnerID), formatTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("entry", e.ID)
	}
	return nil
}

func (s *Store) ReplaceInstallments(ctx context.Context, entryID string, installments []finance.Installment) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM installments WHERE entry_id = ?`, entryID); err != nil {
		return mapError(err)
	}
	return s.insertInstallments(ctx, installments)
}

func (s *Store) insertInstallments(ctx context.Context, installments []finance.Installment) error {
	for _, inst := range installments {
		_, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO installments (id, entry_id, sequence, due_date, expected, paid, canceled, account_id, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, inst.EntryID, inst.Sequence, inst.DueDate.String(), inst.Expected.String(),
			inst.Paid.String(), inst.Canceled, nullString(inst.AccountID), inst.Version,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.Detail(generic.ErrScheduleMismatch, "duplicate installment sequence %d", inst.Sequence)
			}
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*finance.Entry, error) {
	entries, err := s.queryEntries(ctx, `WHERE e.id = ?`, id)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) FindEntryByCollection(ctx context.Context, collectionID string) (*finance.Entry, error) {
	entries, err := s.queryEntries(ctx, `WHERE e.collection_id = ?`, collectionID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// ListEntries pushes the range, direction and owner filters into SQL.
func (s *Store) ListEntries(ctx context.Context, filter finance.EntryFilter) ([]finance.Entry, error) {
	var (
		conds []string
		args  []any
	)
	if !filter.Range.From.IsZero() {
		conds = append(conds, "e.issue_date >= ?")
		args = append(args, filter.Range.From.String())
	}
	if !filter.Range.To.IsZero() {
		conds = append(conds, "e.issue_date <= ?")
		args = append(args, filter.Range.To.String())
	}
	if filter.Direction != "" {
		conds = append(conds, "e.direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.OwnerID != "" {
		conds = append(conds, "e.owner_id = ?")
		args = append(args, filter.OwnerID)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return s.queryEntries(ctx, where, args...)
}

// queryEntries loads entries and their installments with one join.
func (s *Store) queryEntries(ctx context.Context, where string, args ...any) ([]finance.Entry, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT e.id, e.direction, e.cp_name, e.cp_fantasy_name, e.cp_tax_id, e.description, e.total,
			e.issue_date, e.cost_center, e.collection_id, e.owner_id, e.created_by, e.created_at, e.updated_at,
			i.id, i.sequence, i.due_date, i.expected, i.paid, i.canceled, i.account_id, i.version
		FROM ledger_entries e
		LEFT JOIN installments i ON i.entry_id = e.id
		`+where+`
		ORDER BY e.issue_date DESC, e.created_at DESC, e.id, i.sequence`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out   []finance.Entry
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			e                                     finance.Entry
			direction, total, issue, created, upd string
			fantasy, taxID, desc, cost, coll, own sql.NullString
			instID, due, expected, paid, account  sql.NullString
			seq, version                          sql.NullInt64
			canceled                              sql.NullBool
		)
		if err := rows.Scan(
			&e.ID, &direction, &e.Counterparty.Name, &fantasy, &taxID, &desc, &total,
			&issue, &cost, &coll, &own, &e.CreatedBy, &created, &upd,
			&instID, &seq, &due, &expected, &paid, &canceled, &account, &version,
		); err != nil {
			return nil, err
		}

		pos, seen := index[e.ID]
		if !seen {
			e.Direction = finance.Direction(direction)
			e.Counterparty.FantasyName = fantasy.String
			e.Counterparty.TaxID = taxID.String
			e.Description = desc.String
			e.CostCenter = cost.String
			e.CollectionID = coll.String
			e.OwnerID = own.String
			if e.Total, err = parseAmount(total); err != nil {
				return nil, err
			}
			if e.IssueDate, err = parseDate(nullString(issue)); err != nil {
				return nil, err
			}
			if e.CreatedAt, err = parseTime(created); err != nil {
				return nil, err
			}
			if e.UpdatedAt, err = parseTime(upd); err != nil {
				return nil, err
			}
			out = append(out, e)
			pos = len(out) - 1
			index[e.ID] = pos
		}

		if !instID.Valid {
			continue
		}
		inst := finance.Installment{
			ID:        instID.String,
			EntryID:   out[pos].ID,
			Sequence:  int(seq.Int64),
			Canceled:  canceled.Bool,
			AccountID: account.String,
			Version:   int(version.Int64),
		}
		if inst.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		if inst.Expected, err = parseAmount(expected.String); err != nil {
			return nil, err
		}
		if inst.Paid, err = parseAmount(paid.String); err != nil {
			return nil, err
		}
		out[pos].Installments = append(out[pos].Installments, inst)
	}
	return out, rows.Err()
}

// =============================================================================
// INSTALLMENTS AND PAYMENTS
// =============================================================================

func (s *Store) GetInstallment(ctx context.Context, id string) (*finance.Installment, error) {
	var (
		inst                finance.Installment
		due, expected, paid string
		account             sql.NullString
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, entry_id, sequence, due_date, expected, paid, canceled, account_id, version
		FROM installments WHERE id = ?`, id,
	).Scan(&inst.ID, &inst.EntryID, &inst.Sequence, &due, &expected, &paid, &inst.Canceled, &account, &inst.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}

	inst.AccountID = account.String
	if inst.DueDate, err = parseDate(nullString(due)); err != nil {
		return nil, err
	}
	if inst.Expected, err = parseAmount(expected); err != nil {
		return nil, err
	}
	if inst.Paid, err = parseAmount(paid); err != nil {
		return nil, err
	}
	return &inst, nil
}

// SaveInstallmentState is the optimistic write of paid/canceled.
func (s *Store) SaveInstallmentState(ctx context.Context, inst finance.Installment, expectedVersion int) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE installments SET paid = ?, canceled = ?, version = ?
		WHERE id = ? AND version = ?`,
		inst.Paid.String(), inst.Canceled, inst.Version, inst.ID, expectedVersion,
	)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return generic.Detail(generic.ErrConcurrentModification,
			"installment %s changed since version %d", inst.ID, expectedVersion)
	}
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, p finance.Payment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO payments (id, installment_id, entry_id, amount, paid_at, method, account_id, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.InstallmentID, p.EntryID, p.Amount.String(), p.PaidAt.String(), string(p.Method),
		nullString(p.AccountID), nullString(p.Note), p.CreatedBy, formatTime(p.CreatedAt),
	)
	return mapError(err)
}

func (s *Store) ListPayments(ctx context.Context, installmentID string) ([]finance.Payment, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, installment_id, entry_id, amount, paid_at, method, account_id, note, created_by, created_at
		FROM payments WHERE installment_id = ? ORDER BY created_at, id`, installmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.Payment
	for rows.Next() {
		var (
			p                               finance.Payment
			amount, paidAt, method, created string
			account, note                   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.InstallmentID, &p.EntryID, &amount, &paidAt, &method,
			&account, &note, &p.CreatedBy, &created); err != nil {
			return nil, err
		}
		p.Method = finance.PaymentMethod(method)
		p.AccountID = account.String
		p.Note = note.String
		if p.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if p.PaidAt, err = parseDate(nullString(paidAt)); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

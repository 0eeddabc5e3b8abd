package sqlite

import (
	"context"
	"database/sql"

	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
)

// =============================================================================
// COLLECTIONS
// =============================================================================

const collectionColumns = `id, client_id, cp_name, cp_fantasy_name, cp_tax_id, collected_at, quantity_kg,
	pricing_mode, exchange_factor, unit_price, contract_id, fallback, delivered_units, outcome_amount,
	outcome_note, flow, product_id, delivered_product_id, document_number, entry_id, movement_id,
	owner_id, created_by, created_at, updated_at`

func collectionArgs(c coleta.Collection) []any {
	return []any{
		c.ID, c.ClientID, c.Counterparty.Name, nullString(c.Counterparty.FantasyName),
		nullString(c.Counterparty.TaxID), c.CollectedAt.String(), c.QuantityKg.String(),
		string(c.Pricing.Mode), c.Pricing.ExchangeFactor, c.Pricing.UnitPrice.String(),
		nullString(c.Pricing.ContractID), c.Pricing.Fallback, c.Outcome.DeliveredUnits,
		c.Outcome.Amount.String(), nullString(c.Outcome.Note), string(c.Flow), c.ProductID,
		nullString(c.DeliveredProductID), nullString(c.DocumentNumber), nullString(c.EntryID),
		nullString(c.MovementID), nullString(c.OwnerID), c.CreatedBy, formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	}
}

func (s *Store) InsertCollection(ctx context.Context, c coleta.Collection) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO collections (`+collectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		collectionArgs(c)...,
	)
	return mapError(err)
}

// UpdateCollection rewrites every mutable column. The pricing snapshot is
// written back unchanged.
func (s *Store) UpdateCollection(ctx context.Context, c coleta.Collection) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE collections SET client_id = ?, cp_name = ?, cp_fantasy_name = ?, cp_tax_id = ?,
			collected_at = ?, quantity_kg = ?, delivered_units = ?, outcome_amount = ?, outcome_note = ?,
			flow = ?, product_id = ?, delivered_product_id = ?, document_number = ?, entry_id = ?,
			movement_id = ?, owner_id = ?, updated_at = ?
		WHERE id = ?`,
		c.ClientID, c.Counterparty.Name, nullString(c.Counterparty.FantasyName), nullString(c.Counterparty.TaxID),
		c.CollectedAt.String(), c.QuantityKg.String(), c.Outcome.DeliveredUnits, c.Outcome.Amount.String(),
		nullString(c.Outcome.Note), string(c.Flow), c.ProductID, nullString(c.DeliveredProductID),
		nullString(c.DocumentNumber), nullString(c.EntryID), nullString(c.MovementID), nullString(c.OwnerID),
		formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("collection", c.ID)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	_, err := s.q(ctx).ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	return mapError(err)
}

func (s *Store) GetCollection(ctx context.Context, id string) (*coleta.Collection, error) {
	cs, err := s.queryCollections(ctx, `WHERE id = ?`, id)
	if err != nil || len(cs) == 0 {
		return nil, err
	}
	return &cs[0], nil
}

func (s *Store) ListCollections(ctx context.Context, clientID string) ([]coleta.Collection, error) {
	if clientID == "" {
		return s.queryCollections(ctx, ``)
	}
	return s.queryCollections(ctx, `WHERE client_id = ?`, clientID)
}

func (s *Store) queryCollections(ctx context.Context, where string, args ...any) ([]coleta.Collection, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+collectionColumns+` FROM collections `+where+`
		ORDER BY collected_at DESC, created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coleta.Collection
	for rows.Next() {
		var (
			c                                                coleta.Collection
			collectedAt, qty, mode, price, amount, flow      string
			created, updated                                 string
			fantasy, taxID, contractID, note, delivered, doc sql.NullString
			entryID, movementID, owner                       sql.NullString
		)
		if err := rows.Scan(
			&c.ID, &c.ClientID, &c.Counterparty.Name, &fantasy, &taxID, &collectedAt, &qty,
			&mode, &c.Pricing.ExchangeFactor, &price, &contractID, &c.Pricing.Fallback,
			&c.Outcome.DeliveredUnits, &amount, &note, &flow, &c.ProductID, &delivered, &doc,
			&entryID, &movementID, &owner, &c.CreatedBy, &created, &updated,
		); err != nil {
			return nil, err
		}

		c.Counterparty.FantasyName = fantasy.String
		c.Counterparty.TaxID = taxID.String
		c.Pricing.Mode = pricing.Mode(mode)
		c.Pricing.ContractID = contractID.String
		c.Outcome.Note = note.String
		c.Flow = stock.Direction(flow)
		c.DeliveredProductID = delivered.String
		c.DocumentNumber = doc.String
		c.EntryID = entryID.String
		c.MovementID = movementID.String
		c.OwnerID = owner.String

		if c.CollectedAt, err = parseDate(nullString(collectedAt)); err != nil {
			return nil, err
		}
		if c.QuantityKg, err = parseQuantity(qty); err != nil {
			return nil, err
		}
		if c.Pricing.UnitPrice, err = parseAmount(price); err != nil {
			return nil, err
		}
		if c.Outcome.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

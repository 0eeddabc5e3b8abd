package sqlite

import (
	"context"
	"database/sql"

	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/stock"
)

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

func (s *Store) InsertMovement(ctx context.Context, m stock.Movement) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO stock_movements (id, direction, origin, collection_id, document_number, counterparty,
			moved_at, owner_id, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Direction), string(m.Origin), nullString(m.CollectionID), nullString(m.DocumentNumber),
		nullString(m.Counterparty), m.MovedAt.String(), nullString(m.OwnerID), m.CreatedBy,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Detail(generic.ErrConcurrentModification,
				"collection %s already has a linked movement", m.CollectionID)
		}
		return mapError(err)
	}
	return s.insertLines(ctx, m)
}

// UpdateMovement rewrites the header and replaces every line, keeping the id.
func (s *Store) UpdateMovement(ctx context.Context, m stock.Movement) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE stock_movements SET direction = ?, document_number = ?, counterparty = ?, moved_at = ?,
			owner_id = ?, updated_at = ?
		WHERE id = ?`,
		string(m.Direction), nullString(m.DocumentNumber), nullString(m.Counterparty), m.MovedAt.String(),
		nullString(m.OwnerID), formatTime(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("movement", m.ID)
	}
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM movement_lines WHERE movement_id = ?`, m.ID); err != nil {
		return mapError(err)
	}
	return s.insertLines(ctx, m)
}

func (s *Store) insertLines(ctx context.Context, m stock.Movement) error {
	for i, l := range m.Lines {
		_, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO movement_lines (movement_id, line_no, product_id, quantity, direction) VALUES (?, ?, ?, ?, ?)`,
			m.ID, i+1, l.ProductID, l.Quantity.String(), string(l.Direction),
		)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) DeleteMovement(ctx context.Context, id string) error {
	// lines go with ON DELETE CASCADE
	_, err := s.q(ctx).ExecContext(ctx, `DELETE FROM stock_movements WHERE id = ?`, id)
	return mapError(err)
}

func (s *Store) GetMovement(ctx context.Context, id string) (*stock.Movement, error) {
	ms, err := s.queryMovements(ctx, `WHERE m.id = ?`, id)
	if err != nil || len(ms) == 0 {
		return nil, err
	}
	return &ms[0], nil
}

func (s *Store) FindMovementByCollection(ctx context.Context, collectionID string) (*stock.Movement, error) {
	ms, err := s.queryMovements(ctx, `WHERE m.collection_id = ?`, collectionID)
	if err != nil || len(ms) == 0 {
		return nil, err
	}
	return &ms[0], nil
}

// ListMovements pushes the date range into SQL; the service applies the
// remaining filters.
func (s *Store) ListMovements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	from, to := "0000-01-01", "9999-12-31"
	if !filter.Range.From.IsZero() {
		from = filter.Range.From.String()
	}
	if !filter.Range.To.IsZero() {
		to = filter.Range.To.String()
	}
	return s.queryMovements(ctx, `WHERE m.moved_at BETWEEN ? AND ?`, from, to)
}

func (s *Store) queryMovements(ctx context.Context, where string, args ...any) ([]stock.Movement, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT m.id, m.direction, m.origin, m.collection_id, m.document_number, m.counterparty, m.moved_at,
			m.owner_id, m.created_by, m.created_at, m.updated_at, l.product_id, l.quantity, l.direction
		FROM stock_movements m
		LEFT JOIN movement_lines l ON l.movement_id = m.id
		`+where+`
		ORDER BY m.moved_at DESC, m.created_at DESC, m.id, l.line_no`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out   []stock.Movement
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			m                                            stock.Movement
			direction, origin, movedAt, created, upd     string
			coll, doc, counterparty, owner, product, qty sql.NullString
			lineDirection                                sql.NullString
		)
		if err := rows.Scan(&m.ID, &direction, &origin, &coll, &doc, &counterparty, &movedAt,
			&owner, &m.CreatedBy, &created, &upd, &product, &qty, &lineDirection); err != nil {
			return nil, err
		}

		pos, seen := index[m.ID]
		if !seen {
			m.Direction = stock.Direction(direction)
			m.Origin = stock.Origin(origin)
			m.CollectionID = coll.String
			m.DocumentNumber = doc.String
			m.Counterparty = counterparty.String
			m.OwnerID = owner.String
			if m.MovedAt, err = parseDate(nullString(movedAt)); err != nil {
				return nil, err
			}
			if m.CreatedAt, err = parseTime(created); err != nil {
				return nil, err
			}
			if m.UpdatedAt, err = parseTime(upd); err != nil {
				return nil, err
			}
			out = append(out, m)
			pos = len(out) - 1
			index[m.ID] = pos
		}

		if !product.Valid {
			continue
		}
		q, err := parseQuantity(qty.String)
		if err != nil {
			return nil, err
		}
		out[pos].Lines = append(out[pos].Lines, stock.Line{
			ProductID: product.String,
			Quantity:  q,
			Direction: stock.Direction(lineDirection.String),
		})
	}
	return out, rows.Err()
}

// ProductLines returns every line of a product with its effective direction.
func (s *Store) ProductLines(ctx context.Context, productID string) ([]stock.ProductLine, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT l.movement_id, COALESCE(NULLIF(l.direction, ''), m.direction), l.quantity
		FROM movement_lines l
		JOIN stock_movements m ON m.id = l.movement_id
		WHERE l.product_id = ?`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stock.ProductLine
	for rows.Next() {
		var (
			pl             stock.ProductLine
			direction, qty string
		)
		if err := rows.Scan(&pl.MovementID, &direction, &qty); err != nil {
			return nil, err
		}
		pl.Direction = stock.Direction(direction)
		if pl.Quantity, err = parseQuantity(qty); err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p stock.Product) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, unit, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, unit = excluded.unit`,
		p.ID, p.Name, p.Unit, formatTime(p.CreatedAt),
	)
	return mapError(err)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*stock.Product, error) {
	var (
		p       stock.Product
		created string
	)
	err := s.q(ctx).QueryRowContext(ctx, `SELECT id, name, unit, created_at FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Unit, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]stock.Product, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, name, unit, created_at FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stock.Product
	for rows.Next() {
		var (
			p       stock.Product
			created string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &created); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

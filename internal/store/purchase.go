package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/latchkey/internal/model"
)

// ErrDuplicateSession is returned by Record when a purchase already exists
// for the checkout session. Both reconciliation paths treat it as "the
// other path got here first".
var ErrDuplicateSession = errors.New("purchase already recorded for session")

type PurchaseStore struct {
	db *sql.DB
}

func NewPurchaseStore(db *sql.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

func scanPurchase(scanner interface{ Scan(...any) error }) (*model.Purchase, error) {
	var p model.Purchase
	err := scanner.Scan(&p.ID, &p.UserID, &p.ProductID, &p.SessionID, &p.Amount, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const purchaseCols = `id, user_id, product_id, session_id, amount, created_at`

// Record inserts a purchase keyed by the provider's checkout session id.
// The unique index on session_id makes the insert idempotent: when another
// writer already recorded the session, nothing is written and
// ErrDuplicateSession is returned. Exactly one of any number of concurrent
// Record calls for the same session id succeeds.
func (s *PurchaseStore) Record(userID int64, productID, sessionID string, amount int64) (*model.Purchase, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO purchases (user_id, product_id, session_id, amount) VALUES (?, ?, ?, ?)`,
		userID, productID, sessionID, amount,
	)
	if err != nil {
		return nil, fmt.Errorf("insert purchase: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrDuplicateSession
	}
	return s.GetBySessionID(sessionID)
}

// Exists reports whether a purchase has been recorded for the session.
func (s *PurchaseStore) Exists(sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM purchases WHERE session_id = ?`, sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check purchase exists: %w", err)
	}
	return true, nil
}

func (s *PurchaseStore) GetBySessionID(sessionID string) (*model.Purchase, error) {
	row := s.db.QueryRow(`SELECT `+purchaseCols+` FROM purchases WHERE session_id = ?`, sessionID)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by session: %w", err)
	}
	return p, nil
}

// ListByUser returns the user's purchases in insertion order.
func (s *PurchaseStore) ListByUser(userID int64) ([]model.Purchase, error) {
	rows, err := s.db.Query(`SELECT `+purchaseCols+` FROM purchases WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		var p model.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProductID, &p.SessionID, &p.Amount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// HasProduct reports whether the user owns the product.
func (s *PurchaseStore) HasProduct(userID int64, productID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM purchases WHERE user_id = ? AND product_id = ?`,
		userID, productID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check product ownership: %w", err)
	}
	return true, nil
}

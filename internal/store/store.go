package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/intent-settlement/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCapacityEviction is returned when the store is over capacity and
// eviction could not make room. It should not occur under correct
// configuration.
var ErrCapacityEviction = errors.New("store over capacity and eviction could not make room")

// Store is the single source of truth for admitted orders and their lifecycle
// status. All mutation of a given order id is serialized through the backing
// database, which guarantees read-your-writes for the orchestrator.
type Store struct {
	db       *gorm.DB
	capacity int
}

// NewStore creates a store over the given database connection. A capacity of
// zero or less disables eviction.
func NewStore(db *gorm.DB, capacity int) *Store {
	return &Store{db: db, capacity: capacity}
}

// Store inserts or overwrites the record for its order id, then enforces the
// capacity policy by evicting the oldest-by-admission records.
func (s *Store) Store(record *types.StoredOrderRecord) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to store order %s: %w", record.OrderID, err)
	}
	return s.EnforceCapacity()
}

// idempotencyTTL bounds how long an idempotency key maps to its original
// admission.
const idempotencyTTL = 24 * time.Hour

// StoreWithIdempotency stores the record and the idempotency mapping in one
// transaction. If the key is already held by an unexpired record, nothing is
// stored and the previously admitted order id is returned instead; a key
// whose record has expired is refreshed to point at the new order. The empty
// string means the new record was stored.
func (s *Store) StoreWithIdempotency(record *types.StoredOrderRecord, idempotencyKey string) (string, error) {
	tx := s.db.Begin()
	if err := tx.Error; err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	idem := IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     record.OrderID,
		ResourceType:   "order",
		ExpiresAt:      now.Add(idempotencyTTL),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&idem)
	if res.Error != nil {
		tx.Rollback()
		return "", res.Error
	}

	if res.RowsAffected == 0 {
		var existing IdempotencyRecord
		if err := tx.Where("idempotency_key = ?", idempotencyKey).First(&existing).Error; err != nil {
			tx.Rollback()
			return "", err
		}
		if existing.ExpiresAt.After(now) {
			// A previous or concurrent admission holds the key.
			tx.Rollback()
			return existing.ResourceID, nil
		}

		// Expired mapping: point the key at the new order. The expiry guard
		// in the WHERE clause loses cleanly to a concurrent refresh.
		refresh := tx.Model(&IdempotencyRecord{}).
			Where("idempotency_key = ? AND expires_at <= ?", idempotencyKey, now).
			Updates(map[string]interface{}{
				"resource_id": record.OrderID,
				"expires_at":  now.Add(idempotencyTTL),
			})
		if refresh.Error != nil {
			tx.Rollback()
			return "", refresh.Error
		}
		if refresh.RowsAffected == 0 {
			if err := tx.Where("idempotency_key = ?", idempotencyKey).First(&existing).Error; err != nil {
				tx.Rollback()
				return "", err
			}
			tx.Rollback()
			return existing.ResourceID, nil
		}
	}

	if err := tx.Create(record).Error; err != nil {
		tx.Rollback()
		return "", err
	}

	if err := tx.Commit().Error; err != nil {
		return "", err
	}
	return "", s.EnforceCapacity()
}

// GetIdempotencyRecord retrieves an idempotency record by key. Returns nil
// when the key is unknown.
func (s *Store) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := s.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Get returns the record for the order id, or nil when absent. Absence is not
// an error.
func (s *Store) Get(orderID string) (*types.StoredOrderRecord, error) {
	var record types.StoredOrderRecord
	if err := s.db.Where("order_id = ?", orderID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListByStatus returns an unordered snapshot of all records in the given
// status.
func (s *Store) ListByStatus(status types.OrderStatus) ([]types.StoredOrderRecord, error) {
	var records []types.StoredOrderRecord
	if err := s.db.Where("status = ?", status).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateStatus sets the status of the record and reports whether it existed.
// It does not validate that the transition is legal; legality is the
// orchestrator's responsibility.
func (s *Store) UpdateStatus(orderID string, status types.OrderStatus) (bool, error) {
	res := s.db.Model(&types.StoredOrderRecord{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

var terminalStatuses = []types.OrderStatus{
	types.StatusFinalized,
	types.StatusFailed,
	types.StatusExpired,
}

// UpdateStatusIfNotTerminal sets the status only when the current status is
// not terminal, reporting whether the write landed. The guard lives in the
// UPDATE itself, so a status written concurrently between a caller's read and
// this call cannot be overwritten once terminal.
func (s *Store) UpdateStatusIfNotTerminal(orderID string, status types.OrderStatus) (bool, error) {
	res := s.db.Model(&types.StoredOrderRecord{}).
		Where("order_id = ? AND status NOT IN ?", orderID, terminalStatuses).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Delete removes the record and reports whether it existed.
func (s *Store) Delete(orderID string) (bool, error) {
	res := s.db.Unscoped().Where("order_id = ?", orderID).Delete(&types.StoredOrderRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Count returns the number of held records.
func (s *Store) Count() (int64, error) {
	var count int64
	if err := s.db.Model(&types.StoredOrderRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// EnforceCapacity evicts the oldest-by-admission records until the store is
// back under capacity. It is idempotent and safe to run concurrently with
// reads.
func (s *Store) EnforceCapacity() error {
	if s.capacity <= 0 {
		return nil
	}

	count, err := s.Count()
	if err != nil {
		return err
	}
	if count <= int64(s.capacity) {
		return nil
	}

	excess := count - int64(s.capacity)
	var victims []types.StoredOrderRecord
	err = s.db.Order("admitted_at asc").Limit(int(excess)).Find(&victims).Error
	if err != nil {
		return err
	}
	for _, v := range victims {
		if _, err := s.Delete(v.OrderID); err != nil {
			return err
		}
	}

	count, err = s.Count()
	if err != nil {
		return err
	}
	if count > int64(s.capacity) {
		return fmt.Errorf("%w: %d records over capacity %d", ErrCapacityEviction, count, s.capacity)
	}
	return nil
}

// ExpireOverdue transitions records whose fill deadline passed before a fill
// succeeded into the expired terminal state. Returns the expired order ids.
func (s *Store) ExpireOverdue(now time.Time) ([]string, error) {
	openStatuses := []types.OrderStatus{types.StatusPending, types.StatusProcessing}

	var candidates []types.StoredOrderRecord
	if err := s.db.Where("status IN ?", openStatuses).Find(&candidates).Error; err != nil {
		return nil, err
	}

	var expired []string
	for _, record := range candidates {
		if record.Order.FillDeadline.IsZero() || now.Before(record.Order.FillDeadline) {
			continue
		}
		// Re-check the status inside the UPDATE: a pipeline may have moved
		// the order past processing since the snapshot above was taken.
		res := s.db.Model(&types.StoredOrderRecord{}).
			Where("order_id = ? AND status IN ?", record.OrderID, openStatuses).
			Update("status", types.StatusExpired)
		if res.Error != nil {
			return expired, res.Error
		}
		if res.RowsAffected > 0 {
			expired = append(expired, record.OrderID)
		}
	}
	return expired, nil
}

package stores

import (
	"context"

	"github.com/nordlys/erasure/models"
	"github.com/nordlys/erasure/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerStore owns the deletion_requests table in the analytical store. The
// table is an append-mostly audit trail: rows are inserted once per source
// message and updated in place, never deleted.
type LedgerStore struct {
	BaseStore
}

func CreateLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{BaseStore: BaseStore{db: db}}
}

// GetOrCreate inserts a row for the message ref unless one already exists.
// source_message_ref is the idempotency key: a concurrent or repeated pass
// hits the unique index and reads the winner back instead of duplicating.
func (s *LedgerStore) GetOrCreate(ctx context.Context, row *models.DeletionRequest) (*models.DeletionRequest, bool, error) {
	res := s.GetDB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_message_ref"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, false, &utils.LedgerWriteError{Op: "get_or_create", Err: res.Error}
	}

	if res.RowsAffected > 0 {
		return row, true, nil
	}

	var existing models.DeletionRequest
	if err := s.GetDB(ctx).First(&existing, "source_message_ref = ?", row.SourceMessageRef).Error; err != nil {
		return nil, false, &utils.LedgerWriteError{Op: "get_or_create", Err: err}
	}
	return &existing, false, nil
}

// BatchGet fetches the rows for a set of message refs in one query, keyed by
// ref, so in-flight processing costs one round-trip regardless of volume.
func (s *LedgerStore) BatchGet(ctx context.Context, refs []string) (map[string]*models.DeletionRequest, error) {
	result := make(map[string]*models.DeletionRequest, len(refs))
	if len(refs) == 0 {
		return result, nil
	}

	var rows []*models.DeletionRequest
	if err := s.GetDB(ctx).Where("source_message_ref IN ?", refs).Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		result[row.SourceMessageRef] = row
	}
	return result, nil
}

// Update persists a mutated row. Status fields themselves are guarded by
// models.DeletionRequest.SetProviderStatus, which refuses backward moves.
func (s *LedgerStore) Update(ctx context.Context, row *models.DeletionRequest) error {
	if err := s.GetDB(ctx).Save(row).Error; err != nil {
		return &utils.LedgerWriteError{Op: "update", Err: err}
	}
	return nil
}

package stores

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ActivityStore runs the read-side batch lookups against the analytical
// store, plus the warehouse purge. Every lookup takes the whole subject set
// of a pass at once so round-trips stay constant no matter the volume.
type ActivityStore struct {
	BaseStore
}

func CreateActivityStore(db *gorm.DB) *ActivityStore {
	return &ActivityStore{BaseStore: BaseStore{db: db}}
}

type activityRow struct {
	SubjectID    string    `gorm:"column:subject_id"`
	LastActivity time.Time `gorm:"column:last_activity"`
}

type deviceRow struct {
	SubjectID string `gorm:"column:subject_id"`
	DeviceID  string `gorm:"column:device_id"`
}

// LastActivityDates returns the most recent activity date per subject.
// Subjects with no activity on record are simply absent from the map.
func (s *ActivityStore) LastActivityDates(ctx context.Context, subjectIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(subjectIDs))
	if len(subjectIDs) == 0 {
		return result, nil
	}

	var rows []activityRow
	err := s.GetDB(ctx).
		Raw(`SELECT user_id AS subject_id, MAX(activity_date) AS last_activity
		     FROM player_activity
		     WHERE user_id IN ?
		     GROUP BY user_id`, subjectIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		result[row.SubjectID] = row.LastActivity
	}
	return result, nil
}

// DeviceIdentifiers returns all known device-level identifiers per subject,
// for the mediation platform's batch deletion.
func (s *ActivityStore) DeviceIdentifiers(ctx context.Context, subjectIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(subjectIDs))
	if len(subjectIDs) == 0 {
		return result, nil
	}

	var rows []deviceRow
	err := s.GetDB(ctx).
		Raw(`SELECT user_id AS subject_id, device_id
		     FROM installs
		     WHERE user_id IN ? AND device_id <> ''`, subjectIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		result[row.SubjectID] = append(result[row.SubjectID], row.DeviceID)
	}
	return result, nil
}

// purgeTables lists the warehouse tables holding per-subject rows. The
// ledger table is deliberately not here; it is the audit trail.
var purgeTables = []string{
	"player_activity",
	"installs",
	"sessions",
	"purchases",
	"attribution_events",
}

// PurgeSubject deletes every row the warehouse holds for the subject, in one
// transaction so a partial purge is never recorded as done.
func (s *ActivityStore) PurgeSubject(ctx context.Context, subjectID string) error {
	return s.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, table := range purgeTables {
			if err := s.GetDB(txCtx).Exec("DELETE FROM "+table+" WHERE user_id = ?", subjectID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

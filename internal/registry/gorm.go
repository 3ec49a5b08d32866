package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
)

var _ ReadWriter = (*GormStore)(nil)

// targetRecord is the table row for a target. Seq gives insertion order.
type targetRecord struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"`
	TargetID    string `gorm:"uniqueIndex;size:64;not null"`
	HookID      string `gorm:"index;size:128;not null"`
	Endpoint    string `gorm:"size:2048;not null"`
	Kind        string `gorm:"size:32"`
	Format      string `gorm:"size:32"`
	Enabled     bool
	Description string `gorm:"size:512"`
	Username    string `gorm:"size:255"`
	Password    string `gorm:"size:255"`
	Secret      string `gorm:"size:255"`
}

func (targetRecord) TableName() string { return "webhook_targets" }

// GormStore keeps targets in a SQL table through gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres opens a gorm connection to the postgres database at dsn.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("registry/gorm: open postgres: %w", err)
	}
	return db, nil
}

// NewGormStore creates a store on db. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the targets table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&targetRecord{}); err != nil {
		return fmt.Errorf("registry/gorm: migrate: %w", err)
	}
	return nil
}

func (s *GormStore) ListTargets(ctx context.Context, hookID hooks.HookID) ([]model.Target, error) {
	var recs []targetRecord
	err := s.db.WithContext(ctx).
		Where("hook_id = ?", string(hookID)).
		Order("seq").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("registry/gorm: list targets: %w", err)
	}
	return recordsToTargets(recs), nil
}

func (s *GormStore) AllTargets(ctx context.Context) ([]model.Target, error) {
	var recs []targetRecord
	if err := s.db.WithContext(ctx).Order("seq").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("registry/gorm: all targets: %w", err)
	}
	return recordsToTargets(recs), nil
}

func (s *GormStore) SaveTarget(ctx context.Context, t *model.Target) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	rec := targetToRecord(t)

	db := s.db.WithContext(ctx)
	var existing targetRecord
	err := db.Where("target_id = ?", t.ID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = db.Create(&rec).Error
	case err == nil:
		rec.Seq = existing.Seq
		err = db.Save(&rec).Error
	}
	if err != nil {
		return fmt.Errorf("registry/gorm: save target: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteTarget(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("target_id = ?", id).Delete(&targetRecord{})
	if res.Error != nil {
		return fmt.Errorf("registry/gorm: delete target: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	return nil
}

func targetToRecord(t *model.Target) targetRecord {
	rec := targetRecord{
		TargetID:    t.ID,
		HookID:      string(t.HookID),
		Endpoint:    t.Endpoint,
		Kind:        string(t.Kind),
		Format:      string(t.Format),
		Enabled:     t.Enabled,
		Description: t.Description,
	}
	if c := t.Credentials; c != nil {
		rec.Username, rec.Password, rec.Secret = c.Username, c.Password, c.Secret
	}
	return rec
}

func recordsToTargets(recs []targetRecord) []model.Target {
	out := make([]model.Target, 0, len(recs))
	for _, r := range recs {
		t := model.Target{
			ID:          r.TargetID,
			HookID:      hooks.HookID(r.HookID),
			Endpoint:    r.Endpoint,
			Kind:        model.TargetKind(r.Kind),
			Format:      model.BodyFormat(r.Format),
			Enabled:     r.Enabled,
			Description: r.Description,
		}
		if r.Username != "" || r.Password != "" || r.Secret != "" {
			t.Credentials = &model.Credentials{Username: r.Username, Password: r.Password, Secret: r.Secret}
		}
		out = append(out, t)
	}
	return out
}

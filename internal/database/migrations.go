package database

import (
	"errors"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedModeratorPawn  = "2024-06-01_seed_moderator_pawn"
	migrationRestoreModeratorHP = "2024-09-14_restore_moderator_immortality"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, gridHeight int, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedModeratorPawn, apply: func(tx *gorm.DB) error { return seedModeratorPawn(tx, gridHeight) }},
		{name: migrationRestoreModeratorHP, apply: restoreModeratorImmortality},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedModeratorPawn(db *gorm.DB, gridHeight int) error {
	moderator := game.NewModeratorPawn(gridHeight)
	return db.Where("pawn_id = ?", game.ModeratorPawnID).FirstOrCreate(&moderator).Error
}

// restoreModeratorImmortality repairs moderator rows written before health and
// points were pinned to the maximum.
func restoreModeratorImmortality(db *gorm.DB) error {
	return db.Model(&game.Pawn{}).
		Where("pawn_id = ?", game.ModeratorPawnID).
		Updates(map[string]interface{}{"health": math.MaxInt32, "actions": math.MaxInt32}).Error
}

package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/talentflow/bulkops-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_bulk_operations",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.OperationModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_bulk_operations_status_created ON bulk_operations (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_bulk_operations_type_created ON bulk_operations (type, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_bulk_operations_stale ON bulk_operations (heartbeat_at) WHERE status = 'PROCESSING'`,
					`CREATE INDEX IF NOT EXISTS idx_bulk_operations_requested_by ON bulk_operations (requested_by)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OperationModel{})
			},
		},
		{
			ID: "000002_create_bulk_operation_items",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.OperationItemModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_bulk_operation_items_operation_position ON bulk_operation_items (operation_id, position)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_bulk_operation_items_operation_item ON bulk_operation_items (operation_id, item_id)`,
					`CREATE INDEX IF NOT EXISTS idx_bulk_operation_items_pending ON bulk_operation_items (operation_id, position) WHERE status = 'PENDING'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OperationItemModel{})
			},
		},
	})

	return m.Migrate()
}

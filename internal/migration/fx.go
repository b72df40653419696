package migration

import (
	"github.com/smallbiznis/callsight/internal/config"
	"github.com/smallbiznis/callsight/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates postgres on startup. Other dialects are managed out of band.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBRunMigrations || !db.IsPostgres(conn) {
			log.Info("skipping schema migrations", zap.String("dialect", conn.Dialector.Name()))
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return Up(sqlDB)
	}),
)

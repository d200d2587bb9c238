package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usermicrodevices/mas/pkg/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "执行或回滚数据库迁移",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "执行全部未应用的迁移",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(0)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "回滚最近的迁移",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps 必须大于 0")
			}
			return runMigrate(steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "回滚的迁移数")
	cmd.AddCommand(down)

	return cmd
}

// runMigrate steps 为 0 时向上迁移，否则回滚 steps 步
func runMigrate(steps int) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return fmt.Errorf("数据库连接失败: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	defer sqlDB.Close()

	if steps == 0 {
		return database.RunMigrations(sqlDB, logger)
	}
	return database.RollbackMigrations(sqlDB, steps, logger)
}

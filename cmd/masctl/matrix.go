package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/usermicrodevices/mas/internal/bootstrap"
	"github.com/usermicrodevices/mas/internal/service"
)

func syncMatrixCmd() *cobra.Command {
	var roleID uint
	cmd := &cobra.Command{
		Use:   "sync-matrix",
		Short: "补齐角色 × 可追踪模型的字段权限矩阵",
		Long: `为全部角色（或 --role 指定的单个角色）补齐缺失的字段权限单元，
并清理反向关系与已不再声明的字段。已存在的单元不会被降级。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, bootstrap.Options{}, func(ctx context.Context, app *bootstrap.App) error {
				var (
					report *service.MatrixReport
					err    error
				)
				if roleID > 0 {
					report, err = app.Service.Role.SyncMatrix(ctx, roleID)
				} else {
					var all service.MatrixReport
					all, err = app.Service.Registry.SyncAll(ctx)
					report = &all
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().UintVar(&roleID, "role", 0, "只同步指定 ID 的角色")
	return cmd
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/usermicrodevices/mas/internal/bootstrap"
)

func notifyCmd() *cobra.Command {
	var (
		description string
		exclude     []uint
	)
	cmd := &cobra.Command{
		Use:   "notify <source>",
		Short: "按来源立即触发一次通知批次",
		Long: `按来源 value 解析收件人并发送。来源不存在时输出空报告。

Examples:
  masctl notify device_status_changed --description "kiosk-7: on -> off" --exclude 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, bootstrap.Options{}, func(ctx context.Context, app *bootstrap.App) error {
				report, err := app.Service.Dispatch.Notify(ctx, args[0], description, exclude)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "事件描述，渲染进模板")
	cmd.Flags().UintSliceVar(&exclude, "exclude", nil, "不接收本次通知的用户 ID")
	return cmd
}

func setAllPushCmd() *cobra.Command {
	var users []uint
	cmd := &cobra.Command{
		Use:   "set-all-push",
		Short: "为用户开启全部来源的 push 通知",
		Long:  `未指定 --user 时作用于全部用户。单个单元失败不影响其余单元。`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, bootstrap.Options{}, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.Service.Notification.SetAllPushNotifications(ctx, users)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().UintSliceVar(&users, "user", nil, "用户 ID，可重复")
	return cmd
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "立即投递一批已到期的延迟通知",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, bootstrap.Options{}, func(ctx context.Context, app *bootstrap.App) error {
				report, err := app.Worker.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

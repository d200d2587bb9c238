// masctl 运维命令行：权限矩阵维护、手动通知、批量开启推送、延迟任务投递与数据库迁移。
//
// 用法:
//
//	masctl migrate up
//	masctl sync-matrix [--role 3]
//	masctl notify device_status_changed --description "kiosk-7: on -> off"
//	masctl set-all-push --user 1 --user 2
//	masctl drain
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/config"
	"github.com/usermicrodevices/mas/internal/bootstrap"
	applogger "github.com/usermicrodevices/mas/pkg/logger"
)

var (
	version    = "dev"
	configPath string
	timeout    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "masctl",
		Short:         "MAS 运维命令行",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认按 config.Load 的搜索规则）")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "单次命令的超时时间")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncMatrixCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(setAllPushCmd())
	rootCmd.AddCommand(drainCmd())

	return rootCmd
}

// loadEnv 加载配置与日志
func loadEnv() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}

// withApp 装配完整依赖后执行 fn，结束时释放连接
func withApp(cmd *cobra.Command, opts bootstrap.Options, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

// printJSON 以缩进 JSON 输出结果
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

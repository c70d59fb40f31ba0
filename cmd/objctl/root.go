// objctl 直接通过存储驱动读写对象，不经过 HTTP 网关。
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloudstore/internal/config"
	"cloudstore/internal/fetch"
	"cloudstore/internal/logging"
	"cloudstore/internal/service"
	"cloudstore/internal/storage/drivers"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	driverOverride string

	logger  *zap.Logger
	client  *fetch.Client
	objects *service.ObjectService
)

var rootCmd = &cobra.Command{
	Use:           "objctl",
	Short:         "Stream objects to and from the configured storage backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if driverOverride != "" {
			cfg.StorageDriver = strings.ToLower(driverOverride)
		}

		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		defaults, err := service.DefaultsFromConfig(cfg.Relay)
		if err != nil {
			return err
		}

		client = drivers.NewFetchClient(cfg, logger)
		store, err := drivers.Open(cmd.Context(), cfg, client, logger)
		if err != nil {
			return err
		}
		objects = service.NewObjectService(store, nil, cfg.StorageDriver, defaults, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if client != nil {
			client.CloseIdleConnections()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute 解析命令行并执行，失败时以非零状态退出。
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "objctl: %v\n", err)
		os.Exit(1)
	}
}

// parseHeaders 解析重复的 --header k=v 参数。
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected name=value", pair)
		}
		out[strings.ToLower(name)] = strings.TrimSpace(value)
	}
	return out, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driverOverride, "driver", "", "storage driver (local, minio, s3, oss); defaults to STORAGE_DRIVER")
}

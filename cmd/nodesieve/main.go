package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"nodesieve/internal/app"
	"nodesieve/internal/shared/config"
	"nodesieve/internal/shared/logger"
	manager "nodesieve/proxypool"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	mode := flag.String("mode", "", "Override [common] mode: once or serve")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "nodesieve.ini")

	// 1. 加载 .ini 配置，文件中未出现的键使用默认值
	cfg := config.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.CommonConf.Mode = *mode
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
			os.Exit(1)
		}
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 创建应用
	appServer, err := app.New(cfg, *configDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 运行
	if cfg.CommonConf.Mode == "serve" {
		if err := appServer.Run(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	if _, err := appServer.RunOnce(ctx); err != nil {
		if errors.Is(err, manager.ErrEmptyPool) {
			logger.Error().Err(err).Msg("No usable nodes were found in any subscription.")
			os.Exit(2)
		}
		logger.Fatal().Err(err).Msg("Run failed")
	}
}

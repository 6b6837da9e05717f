package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-adr/internal/api"
	"github.com/lorawan-server/lorawan-adr/internal/config"
	"github.com/lorawan-server/lorawan-adr/internal/network"
	"github.com/lorawan-server/lorawan-adr/internal/server"
	"github.com/lorawan-server/lorawan-adr/internal/storage"
	"github.com/lorawan-server/lorawan-adr/pkg/adr"
	"github.com/lorawan-server/lorawan-adr/pkg/crypto"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

func main() {
	// 命令行参数
	var configPath = flag.String("config", "config/network-server.yml", "配置文件路径")
	var validateOnly = flag.Bool("validate", false, "仅验证配置文件")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	var hashPassword = flag.String("hash-password", "", "生成 operator 密码的 bcrypt 哈希并退出")
	flag.Parse()

	// 设置日志
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *hashPassword != "" {
		hash, err := crypto.HashPassword(*hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("生成密码哈希失败")
		}
		fmt.Println(hash)
		return
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("加载配置失败")
	}

	setupLogging(cfg.Log)

	registry := adr.DefaultRegistry(cfg.Network.ADR.InstallationMargin)
	handler, err := registry.Get(cfg.Network.ADR.Algorithm)
	if err != nil {
		log.Fatal().Err(err).Msg("ADR 算法不可用")
	}

	// 如果只是显示配置，打印后退出
	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	// 如果只是验证配置，打印摘要后退出
	if *validateOnly {
		cfg.PrintConfigSummary()
		fmt.Printf("✅ 配置文件验证通过 (ADR: %s)\n", handler.Name())
		return
	}

	region, err := lorawan.GetRegionConfiguration(cfg.Network.Band)
	if err != nil {
		log.Fatal().Err(err).Msg("无效的频段")
	}

	log.Info().
		Str("config_path", *configPath).
		Str("band", region.Name).
		Str("algorithm", handler.ID()).
		Bool("adr_enabled", cfg.Network.ADR.Enabled).
		Msg("Network Server 启动")

	if cfg.JWT.Secret == "" {
		secret, err := crypto.GenerateRandomString(32)
		if err != nil {
			log.Fatal().Err(err).Msg("生成 JWT 密钥失败")
		}
		cfg.JWT.Secret = secret
		log.Warn().Msg("未配置 JWT 密钥，使用随机密钥，重启后令牌失效")
	}

	// 连接数据库
	store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("连接数据库失败")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.Automigrate {
		if err := store.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("数据库迁移失败")
		}
	}

	// 连接NATS
	nc, err := server.ConnectNATS(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("连接NATS失败")
	}
	defer nc.Close()

	engine := network.NewADREngine(handler, region, cfg.Network.ADR.HistorySize, cfg.Network.ADR.Enabled)

	// 创建处理器
	processor := network.NewProcessor(nc, nc, store, engine, network.ProcessorOptions{
		Band:           region.Name,
		DefaultNbTrans: uint8(cfg.Network.ADR.DefaultNbTrans),
	})

	restServer := api.NewRESTServer(cfg, store, registry, engine)

	// 处理系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 启动处理器协程
	go func() {
		if err := processor.Start(ctx); err != nil {
			log.Error().Err(err).Msg("处理器启动失败")
			cancel()
		}
	}()

	go func() {
		if err := restServer.ListenAndServe(cfg.API.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("REST API 服务失败")
			cancel()
		}
	}()

	// 等待退出信号
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("收到退出信号，正在关闭...")
	case <-ctx.Done():
		log.Info().Msg("上下文取消，正在关闭...")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("REST API 关闭失败")
	}

	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain 失败")
	}

	log.Info().Msg("Network Server 已关闭")
}

// setupLogging 设置日志级别和格式
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("无效的日志级别，使用info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

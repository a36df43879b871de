package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"feedforge/internal/app"
	"feedforge/pkg/config"
	"feedforge/pkg/logger"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)

	_ = godotenv.Load(".env")
	addrVal, dataVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithLevel(cfg.Logging.Level)

	// explicit flags win over config and env
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dataPath := dataVal
	if !setFlags["data"] && cfg.Storage.DataPath != "" {
		dataPath = cfg.Storage.DataPath
	}

	var srcs []string
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		srcs = append(srcs, "config")
	}
	if len(srcs) == 0 {
		srcs = append(srcs, "defaults")
	}

	eff := config.EffectiveConfigResult{
		Config:   cfg,
		Addr:     addr,
		DataPath: dataPath,
		Source:   strings.Join(srcs, ","),
	}

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

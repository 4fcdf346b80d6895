package main

import (
	"context"
	"log"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/workflowengine/cmd/engine-api/routes"
	"github.com/lyzr/workflowengine/common/config"
	"github.com/lyzr/workflowengine/common/db"
	"github.com/lyzr/workflowengine/common/logger"
	commonredis "github.com/lyzr/workflowengine/common/redis"
	"github.com/lyzr/workflowengine/common/server"
	"github.com/lyzr/workflowengine/common/telemetry"
	"github.com/lyzr/workflowengine/internal/engine"
	"github.com/lyzr/workflowengine/internal/expr"
	"github.com/lyzr/workflowengine/internal/httpexec"
	"github.com/lyzr/workflowengine/internal/store/pg"
)

func main() {
	cfg, err := config.Load("engine-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx := context.Background()
	database, err := db.New(ctx, cfg, log)
	if err != nil {
		log.Error("connect database", "error", err)
		return
	}
	defer database.Close()

	st := pg.New(database)
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		st = st.WithLocker(pg.NewRedisLocker(commonredis.NewClient(rdb, log)))
	}

	evaluator, err := expr.New()
	if err != nil {
		log.Error("build expression evaluator", "error", err)
		return
	}

	tel := telemetry.New(cfg.Service.PprofPort, 0, log)
	if err := tel.Start(ctx); err != nil {
		log.Error("start telemetry", "error", err)
	}

	eng := engine.New(st, evaluator, httpexec.New(), cfg.Engine.SnapshotInterval, cfg.Engine.MaxCallDepth, log).
		WithTelemetry(tel)

	e := routes.New(eng, st, cfg, log)

	srv := server.New("engine-api", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server stopped with error", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veldrin/server/internal/config"
	"github.com/veldrin/server/internal/data"
	"github.com/veldrin/server/internal/game"
	"github.com/veldrin/server/internal/handler"
	gonet "github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"github.com/veldrin/server/internal/persist"
	"github.com/veldrin/server/internal/scripting"
	"github.com/veldrin/server/internal/system"
	"github.com/veldrin/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const saveIntervalTicks = 1200 // 1200 ticks x 50ms = 1 minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("VELDRIN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting server",
		zap.String("name", cfg.Server.Name),
		zap.Int64("id", cfg.Server.ID))

	// 3. Connect to PostgreSQL and run migrations
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("database ready")

	// 4. Repositories
	accountRepo := persist.NewAccountRepo(db)
	charRepo := persist.NewCharacterRepo(db)
	keyMapRepo := persist.NewKeyMappingRepo(db)

	// 5. Design data and scripting
	powerTable, err := data.LoadPowerTable("data/yaml/power_list.yaml")
	if err != nil {
		return fmt.Errorf("load power table: %w", err)
	}
	log.Info("power prototypes loaded", zap.Int("count", powerTable.Count()))

	luaEngine, err := scripting.NewEngine("scripts", log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()

	// 6. Game instance, world state, replication
	g := game.New(cfg.Server.ID, cfg.Game, log)
	worldState := world.NewState(log)

	store := gonet.NewSessionStore()
	broadcaster := world.NewReplicationManager(worldState, store, g.NextRepID, log)

	// 7. Network server feeding the game mailbox
	netServer, err := gonet.NewServer(
		cfg.Network.BindAddress,
		g.Mailbox(),
		cfg.Network.OutQueueSize,
		cfg.Network.PacketsPerSecond,
		cfg.Network.WriteTimeout,
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// 8. Packet handlers
	pktReg := packet.NewRegistry(log)
	deps := &handler.Deps{
		AccountRepo: accountRepo,
		CharRepo:    charRepo,
		KeyMapRepo:  keyMapRepo,
		Config:      cfg,
		Log:         log,
		Game:        g,
		World:       worldState,
		Powers:      powerTable,
		Scripting:   luaEngine,
		Broadcaster: broadcaster,
		Sessions:    store,
	}
	handler.RegisterAll(pktReg, deps)

	// 9. Tick systems
	g.Register(system.NewInputSystem(netServer, pktReg, store, g.Mailbox(), g.Bus(),
		worldState, accountRepo, cfg.Game.MaxMessagePerTick, log))
	g.Register(system.NewEventSystem(g.Bus()))
	g.Register(system.NewTimerSystem(g))
	g.Register(system.NewVisibilitySystem(worldState, store, log))
	g.Register(system.NewOutputSystem(store))
	persistSys := system.NewPersistenceSystem(worldState, charRepo, g.Bus(), saveIntervalTicks, log)
	g.Register(persistSys)
	g.Register(system.NewCleanupSystem(worldState))

	// Flush buffered output after catch-up bursts, outside the world lock.
	g.SetFlushFunc(func() {
		store.ForEach(func(sess *gonet.Session) {
			sess.FlushOutput()
		})
	})

	// 10. Region maintenance
	maintCtx, maintCancel := context.WithCancel(context.Background())
	defer maintCancel()
	worldState.Regions().StartMaintenance(maintCtx, g,
		cfg.Game.RegionIdleTimeout, cfg.Game.RegionSweepEvery)

	// 11. Run the loop; shut down on signal
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- g.Run()
	}()

	log.Info("server ready",
		zap.String("addr", netServer.Addr().String()),
		zap.Duration("tick", cfg.Game.TickDuration))

	select {
	case sig := <-shutdownCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		g.WithLock(func() {
			persistSys.SaveAll()
		})
		netServer.Shutdown()
		log.Info("server stopped")
		return nil
	case err := <-runErr:
		return fmt.Errorf("game loop: %w", err)
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

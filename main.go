package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"attendance-bot/internal/attendance"
	"attendance-bot/internal/bot"
	"attendance-bot/internal/chat/discord"
	"attendance-bot/internal/frontdoor"
	"attendance-bot/internal/platform/db"
	"attendance-bot/internal/platform/logger"
	"attendance-bot/internal/schedule"
	"attendance-bot/internal/session"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "設定ファイルのパス")
	flag.Parse()

	// 設定読み込み
	cfg, err := db.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	log, closer := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.MaxSizeMB)
	defer closer.Close()
	slog.SetDefault(log)
	slog.Info("starting", "mode", cfg.Mode, "driver", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg.DB)
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	loc, err := time.LoadLocation(cfg.Attendance.Timezone)
	if err != nil {
		slog.Error("timezone", "tz", cfg.Attendance.Timezone, "error", err)
		os.Exit(1)
	}

	rest := discord.NewREST(discord.RESTConfig{
		Token:    cfg.Discord.Token,
		APIBase:  cfg.Discord.APIBase,
		RetryMax: cfg.Discord.RetryMax,
	})
	svc := attendance.NewService(store, rest, attendance.Options{
		Location: loc,
		Labels:   attendance.LabelsFor(cfg.Attendance.Locale),
	})

	// router と mgr は互いを参照するので runner は router を後から捕まえる
	var router *bot.Router
	mgr := session.NewManager(ctx, func(ctx context.Context) error {
		return discord.Connect(ctx, discord.GatewayConfig{
			Token: cfg.Discord.Token,
			URL:   cfg.Discord.GatewayURL,
		}, router.HandleMessage)
	}, session.Config{
		IdleTimeout:   time.Duration(cfg.Session.IdleMinutes) * time.Minute,
		CheckInterval: time.Duration(cfg.Session.CheckIntervalSeconds) * time.Second,
		OnClose:       func(error) { rest.Close() },
	})
	router = bot.NewRouter(bot.Config{
		Prefix:  cfg.Discord.CommandPrefix,
		ViewURL: cfg.Attendance.ViewURL,
	}, svc, rest, mgr)

	if cfg.Session.Autostart {
		mgr.Ensure()
	}

	if cfg.Schedule.Enabled {
		sch := schedule.New(loc)
		target := attendance.Target{ServerID: cfg.Schedule.ServerID, ChannelID: cfg.Schedule.ChannelID}
		if err := sch.Add(cfg.Schedule.Spec, bot.CmdStartWeek, func(ctx context.Context) {
			router.StartWeek(ctx, target)
		}); err != nil {
			slog.Error("schedule", "error", err)
			os.Exit(1)
		}
		sch.Start()
		defer sch.Stop()
		slog.Info("schedule enabled", "spec", cfg.Schedule.Spec, "next", sch.Next())
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == db.ModeDev {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:5000"},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	frontdoor.RegisterRoutes(r, mgr)

	// /api/v1
	api := r.Group("/api/v1")
	attendance.RegisterRoutes(api, svc)

	// TLS はホスティング側で終端する
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	slog.Info("shutting down...")
	mgr.Close()
	mgr.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

// openStore: database.driver に応じて保存先を選ぶ
func openStore(ctx context.Context, c db.DatabaseConfig) (attendance.Store, func(), error) {
	if c.Driver == db.DriverMemory {
		slog.Warn("using in-memory store; records are lost on restart")
		return attendance.NewMemoryStore(), func() {}, nil
	}
	conn, err := db.Connect(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	st := attendance.NewSQLStore(conn, c.Driver)
	if err := st.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	slog.Info("connected to DB", "driver", c.Driver, "dbname", c.DBName)
	return st, func() { conn.Close() }, nil
}

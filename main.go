package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FeasibleDirection/CS5-7319-Final-Project-Group-5-Tian-XU-XIE/server"
)

// 入口：启动 HTTP + WebSocket 服务，装配注册表、网关和结算链路
func main() {
	var addr, configPath string
	flag.StringVar(&addr, "addr", "", "server listen address, overrides config, e.g. :8080")
	flag.StringVar(&configPath, "config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	// 使用第三方 zap 日志库写入 app.log（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	// 领域事件的观测端都挂在订阅侧
	bus := server.NewEventBus()
	bus.Subscribe(server.EventPlayerJoined, func(ev server.Event) {
		server.Log.Infof("event player_joined: room=%d user=%s", ev.RoomID, ev.Username)
	})
	bus.Subscribe(server.EventCollision, func(ev server.Event) {
		server.Log.Debugf("event collision: room=%d kind=%s attacker=%s target=%s",
			ev.RoomID, ev.Collision, ev.Attacker, ev.Target)
	})
	bus.Subscribe(server.EventScoreUpdated, func(ev server.Event) {
		server.Log.Debugf("event score: room=%d user=%s delta=%d total=%d",
			ev.RoomID, ev.Username, ev.ScoreDelta, ev.ScoreTotal)
	})
	bus.Subscribe(server.EventGameEnded, func(ev server.Event) {
		server.Log.Infof("event game_ended: room=%d winner=%s", ev.RoomID, ev.Winner)
	})

	// 战绩存储：配了 Redis 且连得上就用 Redis，否则退回内存
	var store server.ResultStore = server.NewMemoryResultStore()
	if cfg.RedisAddr != "" {
		rs := server.NewRedisResultStore(cfg.RedisAddr, cfg.ResultKey)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			server.Log.Warnf("redis unreachable, using memory store: %v", err)
			_ = rs.Close()
		} else {
			store = rs
			defer rs.Close()
		}
		cancel()
	}

	auth := server.NewStaticAuth()
	for token, user := range cfg.DevTokens {
		auth.Grant(token, user)
	}
	lobby := server.NewStaticLobby()

	engine := server.NewEngine(bus)
	finalizer := server.NewFinalizer(store, lobby)
	registry := server.NewRegistry(cfg, engine, bus, finalizer)
	gateway := server.NewGateway(registry, auth, lobby)
	registry.SetBroadcaster(gateway)

	// 先预建一个房间，便于快速试跑
	if seed := cfg.DefaultRoom; seed != nil {
		lobby.AllowRoom(seed.RoomID, seed.Members...)
		if _, err := registry.Create(seed.RoomID, server.RoomOptions{
			MapName:    seed.MapName,
			WinMode:    seed.WinMode,
			MaxPlayers: seed.MaxPlayers,
		}); err != nil {
			server.Log.Warnf("default room not created: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWS)
	// 前后端分离：将 / 映射到 web 目录的静态资源
	mux.Handle("/", http.FileServer(http.Dir("web")))
	// 管理与监控接口
	admin := &server.AdminAPI{Registry: registry, Lobby: lobby}
	admin.Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		server.Log.Infof("arena server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	registry.Close()
}

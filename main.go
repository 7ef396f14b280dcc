package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"NebulaChat/data/mgo"
	"NebulaChat/global"
	"NebulaChat/logger"
	"NebulaChat/middleware"
	friendmod "NebulaChat/module/friend"
	friendsvc "NebulaChat/module/friend/service"
	"NebulaChat/module/message"
	usermod "NebulaChat/module/user"
	usersvc "NebulaChat/module/user/service"
	"NebulaChat/service/chat"
	"NebulaChat/service/maintenance"
	"NebulaChat/service/storage"
	redisSrv "NebulaChat/service/storage/redis"
	"NebulaChat/tools/ids"
	"NebulaChat/tools/security"
)

func main() {
	cfgPath := os.Getenv("NC_CONFIG")
	if err := global.Load(cfgPath); err != nil {
		logger.Errorf("load config failed: %v", err)
		os.Exit(1)
	}
	cfg := &global.Global
	ids.SetNodeID(cfg.NodeID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := mgo.Open(ctx, mgo.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
	})
	cancel()
	if err != nil {
		logger.Errorf("mongo open failed: %v", err)
		os.Exit(1)
	}

	if err := redisSrv.InitRedis(redisSrv.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		logger.Errorf("redis init failed: %v", err)
		os.Exit(1)
	}
	rdb := redisSrv.GetRedis()

	jwtOpts := security.DefaultOptions(global.GetJwtSecret())
	jwtOpts.TTL = cfg.TokenTTL

	// 服务装配：注册表/存储显式注入，不走进程级单例
	users := usersvc.NewService(db, rdb, jwtOpts)
	friends := friendsvc.NewService(db)
	store := message.NewStore(db)
	presence := storage.NewPresenceManager(rdb, cfg.PresenceTTL)

	reg := chat.NewRegistry()
	router := chat.NewRouter(reg, store, friends)
	gateway := chat.NewGateway(reg, router, users, presence, chat.GatewayConf{
		SendBuffer:   cfg.SendBuffer,
		ReadLimit:    cfg.ReadLimit,
		PongWait:     cfg.PongWait,
		PingInterval: cfg.PingInterval,
	})

	// 启动期幂等准备：索引 + 当前分区
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := users.EnsureIndexes(initCtx); err != nil {
		logger.Warnf("ensure user indexes: %v", err)
	}
	if err := friends.EnsureIndexes(initCtx); err != nil {
		logger.Warnf("ensure friendship indexes: %v", err)
	}
	if err := store.EnsurePartition(initCtx, time.Now()); err != nil {
		logger.Warnf("ensure message partition: %v", err)
	}
	initCancel()

	sched, err := maintenance.Start(maintenance.Jobs{
		Store:      store,
		Friends:    friends,
		PendingTTL: cfg.PendingRequestTTL,
	})
	if err != nil {
		logger.Errorf("maintenance start failed: %v", err)
		os.Exit(1)
	}
	defer func() { _ = sched.Shutdown() }()

	userH := usermod.NewHandler(users)
	friendH := friendmod.NewHandler(friends)
	chatAPI := chat.NewAPI(router)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/chat", gateway.HandleWS) // ws://host/chat?token=xxx

	api := r.Group("/api")
	api.POST("/register", userH.HandlerRegister)
	api.POST("/login", userH.HandlerLogin)

	authed := api.Group("", middleware.Auth(users))
	authed.POST("/logout", userH.HandlerLogout)
	authed.GET("/profile", userH.HandlerProfile)
	authed.POST("/profile", userH.HandlerUpdateProfile)

	authed.POST("/friends/request", friendH.HandlerSendRequest)
	authed.POST("/friends/respond", friendH.HandlerRespond)
	authed.GET("/friends", friendH.HandlerList)
	authed.GET("/friends/requests", friendH.HandlerPending)

	authed.GET("/messages/history", chatAPI.HandleHistory)
	authed.GET("/messages/recent", chatAPI.HandleRecentContacts)
	authed.GET("/messages/unread", chatAPI.HandleUnread)
	authed.POST("/messages/read", chatAPI.HandleMarkRead)

	logger.Infof("[HTTP] Listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Errorf("HTTP server failed: %v", err)
		os.Exit(1)
	}
}

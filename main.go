package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"LIB-backend/docs"
	"LIB-backend/internal/lending"
	"LIB-backend/internal/platform/auth"
	"LIB-backend/internal/platform/db"
	"LIB-backend/internal/platform/idempotency"
	"LIB-backend/internal/platform/requestid"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig(db.ConfigPath())
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[INFO] mode:%s storage:%s\n", cfg.Mode, cfg.Storage.Driver)

	ctx := context.Background()

	// ストレージ
	var (
		store    lending.Store
		accounts auth.AccountStore
	)
	switch cfg.Storage.Driver {
	case "mysql":
		conn, err := connectMySQL(ctx, cfg.DB)
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Close()
		store = lending.NewMySQLStore(conn)
		accounts = auth.NewSQLStore(conn)
	default:
		log.Println("[WARN] in-memory storage: data is lost on restart")
		store = lending.NewMemoryStore(cfg.Lending.LockTimeout)
		accounts = auth.NewMemoryStore()
	}

	eng, err := lending.NewEngine(store, lending.Policy{
		MinDays:  cfg.Lending.MinDays,
		MaxDays:  cfg.Lending.MaxDays,
		Location: cfg.Location(),
	})
	if err != nil {
		log.Fatal(err)
	}

	authSvc := auth.NewService(accounts, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminID, cfg.Auth.AdminPassword); err != nil {
		log.Fatal(err)
	}

	// Idempotency-Key（redis.addr が空なら無効）
	var mutating []gin.HandlerFunc
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[WARN] redis unreachable (%v), Idempotency-Key requests pass through", err)
		} else {
			log.Printf("[INFO] connected to redis: %s", cfg.Redis.Addr)
		}
		mutating = append(mutating, idempotency.Middleware(idempotency.NewRedisStore(rdb, cfg.Redis.TTL)))
	}

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(requestid.Middleware(), gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", idempotency.HeaderKey, requestid.HeaderName},
			ExposeHeaders:    []string{"Content-Length", "Location", requestid.HeaderName, idempotency.HeaderReplayed},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))

		docs.SwaggerInfo.Host = "localhost" + cfg.Server.Addr
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v1
	api := r.Group("/api/v1")
	auth.RegisterRoutes(api, authSvc)

	secured := api.Group("", auth.RequireAuth(authSvc.Secret()))
	auth.RegisterAdminRoutes(secured, authSvc)
	lending.RegisterRoutes(secured, eng, mutating...)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "no such route"}})
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		var err error
		if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
			certFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Cert)
			keyFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Key)
			log.Printf("[INFO] listening on https://0.0.0.0%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			if cfg.Mode == "release" {
				log.Fatal("[ERROR] release mode requires certificate.cert and certificate.key")
			}
			log.Printf("[INFO] listening on http://0.0.0.0%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("[INFO] shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Fatal(err)
	}
}

func connectMySQL(ctx context.Context, c db.DatabaseConfig) (*sqlx.DB, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := db.Connect(cctx, c)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] connected to DB: %s", c.DBName)

	if c.Migrate {
		if err := db.Migrate(cctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

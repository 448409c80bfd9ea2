package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"lighthousenotes/internal/identity"
	"lighthousenotes/internal/util"
	"lighthousenotes/pkg/browserstore"
	"lighthousenotes/pkg/storage"
	"lighthousenotes/services/web/internal/apiclient"
	"lighthousenotes/services/web/internal/config"
	"lighthousenotes/services/web/internal/export"
	"lighthousenotes/services/web/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	durations, err := cfg.Durations()
	if err != nil {
		log.Fatalf("failed to parse durations: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "web")

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	var stores browserstore.Provider
	switch cfg.BrowserStore {
	case config.BrowserStoreCookie:
		stores, err = browserstore.NewCookieProvider(cfg.StoreSecret, browserstore.CookieOptions{
			Secure: cfg.SecureCookies,
			MaxAge: durations.SettingsTTL,
		})
		if err != nil {
			log.Fatalf("failed to init cookie store: %v", err)
		}
	case config.BrowserStorePostgres:
		pg, err := browserstore.NewPostgresProvider(cfg.DatabaseURL, browserstore.PostgresOptions{
			TTL:          durations.SettingsTTL,
			SecureCookie: cfg.SecureCookies,
		})
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		defer pg.Close()
		go sweepRecords(pg, logger)
		stores = pg
	default:
		stores = browserstore.NewRedisProvider(redisClient, browserstore.RedisOptions{
			TTL:          durations.SettingsTTL,
			SecureCookie: cfg.SecureCookies,
		})
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if redisClient != nil {
		if err := redisClient.Ping(startCtx).Err(); err != nil {
			log.Fatalf("failed to reach redis: %v", err)
		}
	}

	verifier, err := identity.NewVerifier(startCtx, identity.Config{
		JWKSURL:           cfg.JWKSURL,
		Issuer:            cfg.JWTIssuer,
		Audience:          cfg.JWTAudience,
		Leeway:            durations.JWTLeeway,
		OrganizationClaim: cfg.OrgClaim,
		RolesClaim:        cfg.RolesClaim,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var bucket *storage.BucketImages
	if cfg.ImageSource == config.ImageSourceBucket {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		if err := objects.Ping(startCtx); err != nil {
			log.Fatalf("failed to reach object store: %v", err)
		}
		bucket = &storage.BucketImages{Store: objects, Expiry: durations.ImageURLExpiry}
	}

	serverCfg := server.Config{
		API:                apiclient.NewClient(cfg.APIURL, &http.Client{Timeout: durations.APITimeout}),
		Verifier:           verifier,
		Stores:             stores,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     trusted,
		LoginURL:           cfg.LoginURL,
		LogoutURL:          cfg.LogoutURL,
		TokenCookieName:    cfg.TokenCookieName,
		SecureCookies:      cfg.SecureCookies,
		Bucket:             bucket,
		ImageConcurrency:   cfg.ImageConcurrency,
		PDF:                export.PDFRenderer{ChromePath: cfg.ChromePath},
	}
	if origin := cfg.ImageOrigin(); origin != "" {
		serverCfg.ImageOrigins = []string{origin}
	}
	if redisClient != nil {
		serverCfg.Redis = redisClient
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "browser_store", cfg.BrowserStore, "image_source", cfg.ImageSource)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func sweepRecords(p *browserstore.PostgresProvider, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := p.Sweep(ctx)
		cancel()
		if err != nil {
			logger.Warn("browser record sweep failed", "err", err)
			continue
		}
		if n > 0 {
			logger.Info("browser records swept", "deleted", n)
		}
	}
}

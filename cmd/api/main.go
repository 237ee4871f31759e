package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ssohub.org/internal/config"
	"ssohub.org/internal/httpapi"
	"ssohub.org/internal/obs"
	"ssohub.org/internal/roles"
	"ssohub.org/internal/sso"
	"ssohub.org/internal/store"
	"ssohub.org/internal/store/memory"
	"ssohub.org/internal/store/pg"
	"ssohub.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	catalogCfg := []roles.Config{roles.Builtin()}
	if cfg.RolesFile != "" {
		extra, err := roles.Load(cfg.RolesFile)
		if err != nil {
			log.Fatalf("roles: %v", err)
		}
		catalogCfg = append(catalogCfg, extra)
	}
	catalog := roles.NewCatalog(catalogCfg...)

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		Issuer:        cfg.Issuer,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Leeway:        cfg.Leeway,
	})
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	var rotation sso.RotationStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		rotation = sso.NewRedisRotationStore(client, cfg.RefreshTTL+cfg.Leeway)
	} else {
		mem := sso.NewMemoryRotationStore()
		go func() {
			for range time.Tick(time.Hour) {
				mem.Purge(cfg.RefreshTTL)
			}
		}()
		rotation = mem
	}

	var (
		users  sso.UserProvider
		banner httpapi.UserBanner
		ready  httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		users, banner, ready = pgStore, pgStore, httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		mem := memory.New()
		if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
			hash, err := store.HashPassword(cfg.AdminPassword)
			if err != nil {
				log.Fatalf("hash admin password: %v", err)
			}
			mem.Put(store.Record{
				Email:        cfg.AdminEmail,
				PasswordHash: hash,
				Roles:        map[string]string{sso.SystemRealm: "ADMIN"},
			})
			log.Printf("seeded bootstrap admin %s", cfg.AdminEmail)
		}
		users, banner = mem, mem
	}

	authenticator, err := sso.NewAuthenticator(users, codec, rotation, cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Authenticator: authenticator,
		Catalog:       catalog,
		Throttle:      sso.NewThrottle(cfg.ThrottleDelay),
		Banner:        banner,
		Ready:         ready,
		Version:       version,
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		RateLimit:     cfg.RateLimit,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting ssohub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

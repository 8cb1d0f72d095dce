package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"xplora.org/internal/audit"
	"xplora.org/internal/auth"
	"xplora.org/internal/fieldcrypt"
	"xplora.org/internal/gateway"
	"xplora.org/internal/httpapi"
	"xplora.org/internal/kms"
	"xplora.org/internal/obs"
	"xplora.org/internal/ratelimit"
	"xplora.org/internal/request"
	"xplora.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	production := os.Getenv("XPLORA_ENV") == "production"

	dsn := os.Getenv("XPLORA_PG_DSN")
	if dsn == "" {
		log.Fatal("XPLORA_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	// Field cipher: local AEAD always, Vault Transit in front when enabled.
	cipherOpts := []fieldcrypt.Option{
		fieldcrypt.WithFallbackHook(obs.DecryptFallbacksTotal.Inc),
	}
	if os.Getenv("VAULT_ENABLED") == "true" {
		vault, err := kms.NewClient(kms.Config{
			Addr:      os.Getenv("VAULT_ADDR"),
			RoleID:    os.Getenv("VAULT_ROLE_ID"),
			SecretID:  os.Getenv("VAULT_SECRET_ID"),
			Token:     os.Getenv("VAULT_TOKEN"),
			Namespace: os.Getenv("VAULT_NAMESPACE"),
		})
		if err != nil {
			log.Fatalf("vault: %v", err)
		}
		cipherOpts = append(cipherOpts, fieldcrypt.WithRemote(vault))
	}
	cipher, err := fieldcrypt.New(os.Getenv("XPLORA_ENCRYPTION_MASTER_KEY"), production, cipherOpts...)
	if err != nil {
		log.Fatalf("field cipher: %v", err)
	}

	recorder := audit.NewRecorder(pg.NewAuditSink(store), 0)
	defer recorder.Close()

	limiter := ratelimit.NewTokenBucket(envInt("XPLORA_RATE_PER_MINUTE", 120), envInt("XPLORA_RATE_BURST", 30), 5*time.Minute)
	defer limiter.Close()

	svcOpts := []request.ServiceOption{request.WithLimiter(limiter)}
	if raw := os.Getenv("XPLORA_APPROVER_ROLES"); raw != "" {
		svcOpts = append(svcOpts, request.WithApproverRoles(auth.ParseRoleSet(raw)))
	}
	requests, err := request.NewService(store, recorder, svcOpts...)
	if err != nil {
		log.Fatalf("request service: %v", err)
	}

	gw, err := gateway.New(store, requests, cipher, recorder)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	authn, err := auth.NewAuthenticator(store, envDuration("XPLORA_SESSION_TTL", 8*time.Hour))
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, authn, requests, gw,
		httpapi.WithLimiter(limiter),
		httpapi.WithRecorder(recorder),
	)

	addr := os.Getenv("XPLORA_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting xplora-gateway %s on %s", version, srv.Addr)

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

func envInt(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

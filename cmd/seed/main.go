// seed creates a development signature request against DATABASE_URL and prints its signing link.
// The request points at the sample document served by the dev routes, so run the server with
// DEV_OTP_ENABLED=true to walk through the signing flow locally.
package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docsign-engine/backend/internal/audit"
	auditrepo "docsign-engine/backend/internal/audit/repository"
	"docsign-engine/backend/internal/config"
	"docsign-engine/backend/internal/db"
	"docsign-engine/backend/internal/document"
	"docsign-engine/backend/internal/logger"
	"docsign-engine/backend/internal/platform/rbac"
	"docsign-engine/backend/internal/security"
	"docsign-engine/backend/internal/server/middleware"
	sigrepo "docsign-engine/backend/internal/signature/repository"
	signinghandler "docsign-engine/backend/internal/signing/handler"
	"docsign-engine/backend/internal/signing/service"
)

const (
	devRequesterID = "dev-requester-001"
	devSignerName  = "Dev Signer"
	devSignerEmail = "signer@example.com"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "").Fatal("config", zap.Error(err))
	}
	log := logger.WithComponent(logger.New(cfg.LogLevel, cfg.Env), "seed")
	defer func() { _ = log.Sync() }()

	if cfg.IsProduction() {
		log.Fatal("seed must not run with APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	// The server may not be running, so the sample document is hashed locally.
	docURL := cfg.PublicBaseURL + signinghandler.SampleDocumentPath
	docs := document.NewMemoryStore()
	docs.Put(docURL, signinghandler.SampleDocument)

	orchestrator := service.New(service.Deps{
		Requests:  sigrepo.NewPostgresRepository(pool),
		Audit:     audit.NewRecorder(auditrepo.NewPostgresRepository(pool), middleware.ActorFromContext, log),
		Documents: docs,
		Log:       log,
	}, service.Config{
		DefaultTTL:    cfg.RequestDefaultTTL(),
		PublicBaseURL: cfg.PublicBaseURL,
	})

	created, err := orchestrator.Create(middleware.WithIdentity(ctx, devRequesterID, rbac.RoleAdmin), service.CreateInput{
		DocumentType:  "nda",
		DocumentTitle: "Mutual Non-Disclosure Agreement",
		DocumentURL:   docURL,
		SignerName:    devSignerName,
		SignerEmail:   devSignerEmail,
	})
	if err != nil {
		log.Fatal("create request", zap.Error(err))
	}

	fmt.Printf("request id:   %s\n", created.Request.ID)
	fmt.Printf("signing url:  %s\n", created.SigningURL)
	fmt.Printf("expires at:   %s\n", created.Request.ExpiresAt.Format(time.RFC3339))

	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		log.Info("JWT keys not set; no access token printed for the internal routes")
		return
	}
	priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Fatal("jwt keys", zap.Error(err))
	}
	tokens := security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, time.Hour, cfg.ViewerSessionTTL())
	access, expiresAt, err := tokens.IssueAccess(devRequesterID, rbac.RoleAdmin)
	if err != nil {
		log.Fatal("issue access token", zap.Error(err))
	}
	fmt.Printf("access token (until %s):\n%s\n", expiresAt.Format(time.RFC3339), access)
}

// seed registers development identities for local testing. Idempotent: existing e-mails are skipped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"serreconnect/backend/internal/config"
	"serreconnect/backend/internal/db"
	identitydomain "serreconnect/backend/internal/identity/domain"
	identityrepo "serreconnect/backend/internal/identity/repository"
	identityservice "serreconnect/backend/internal/identity/service"
	"serreconnect/backend/internal/security"
	sessionrepo "serreconnect/backend/internal/session/repository"
)

const devPassword = "password123"

var devIdentities = []struct {
	email, username, role string
}{
	{"admin@example.com", "Greenhouse Admin", identitydomain.RoleAdmin},
	{"grower@example.com", "Grower", identitydomain.RoleUser},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	codec, err := security.NewTokenCodec(security.CodecOptions{
		Algorithm:  cfg.JWTAlgorithm,
		Secret:     cfg.JWTSecret,
		PrivateKey: cfg.JWTPrivateKey,
		PublicKey:  cfg.JWTPublicKey,
	})
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	svc := identityservice.NewAuthService(
		identityrepo.NewPostgresRepository(pool),
		sessionrepo.NewPostgresRepository(pool),
		security.NewHasher(cfg.BcryptCost),
		codec,
		identityservice.Options{StoreTimeout: cfg.StoreTimeout()},
	)

	for _, d := range devIdentities {
		ident, err := svc.Register(ctx, d.email, d.username, devPassword, d.role)
		switch {
		case errors.Is(err, identityrepo.ErrEmailTaken):
			log.Printf("%s already exists, skipping", d.email)
		case err != nil:
			log.Fatalf("register %s: %v", d.email, err)
		default:
			log.Printf("created %s (%s) id=%s", ident.Email, ident.Role, ident.ID)
		}
	}
	fmt.Printf("Dev logins: admin@example.com, grower@example.com / %s\n", devPassword)
}

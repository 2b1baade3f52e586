// Command token issues an API token for a client when auth is enabled.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/vault-chat/internal/config"
	"github.com/Rrens/vault-chat/internal/security"
	"github.com/joho/godotenv"
)

func main() {
	client := flag.String("client", "", "client id to issue the token to")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "auth.jwt_secret (JWT_SECRET) is not set")
		os.Exit(1)
	}

	token, err := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL).GenerateToken(*client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

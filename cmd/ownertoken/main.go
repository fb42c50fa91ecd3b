package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"omnidownloader/internal/middleware"
)

func main() {
	var (
		ownerFlag  string
		secretFlag string
		ttlFlag    time.Duration
	)
	flag.StringVar(&ownerFlag, "owner", "", "owner ID placed in the token subject")
	flag.StringVar(&secretFlag, "secret", "", "HMAC secret (fallbacks to JWT_SECRET)")
	flag.DurationVar(&ttlFlag, "ttl", 24*time.Hour, "token lifetime; 0 issues a token without expiry")
	flag.Parse()

	_ = godotenv.Load()

	owner := strings.TrimSpace(ownerFlag)
	if owner == "" {
		fmt.Fprintln(os.Stderr, "-owner is required")
		os.Exit(1)
	}
	secret := strings.TrimSpace(secretFlag)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT secret is required via -secret or JWT_SECRET")
		os.Exit(1)
	}

	now := time.Now()
	claims := middleware.TokenClaims{Sub: owner, Iat: now.Unix(), Issuer: "omnidownloader"}
	if ttlFlag > 0 {
		claims.Exp = now.Add(ttlFlag).Unix()
	}
	token, err := middleware.SignJWT(secret, claims)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

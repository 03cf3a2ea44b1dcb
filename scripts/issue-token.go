package main

import (
	"fmt"
	"os"
	"time"

	"github.com/openclaw/link-server-go/internal/middleware"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: IDENTITY_JWT_SECRET=... go run scripts/issue-token.go <user-id> [ttl]\n")
		os.Exit(1)
	}

	secret := os.Getenv("IDENTITY_JWT_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Error: IDENTITY_JWT_SECRET is not set\n")
		os.Exit(1)
	}

	ttl := time.Hour
	if len(os.Args) > 2 {
		parsed, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid ttl: %v\n", err)
			os.Exit(1)
		}
		ttl = parsed
	}

	token, err := middleware.SignIdentityToken(secret, os.Getenv("IDENTITY_JWT_ISSUER"), os.Args[1], time.Now(), ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

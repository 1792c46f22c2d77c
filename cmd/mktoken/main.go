// mktoken mints a development bearer token for connecting to the gateway.
//
// Usage:
//
//	mktoken -id <identity-uuid> [-secret <jwt-secret>] [-ttl 24h]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	id := flag.String("id", "", "identity UUID (required)")
	secret := flag.String("secret", "dev-secret-change-me", "JWT signing secret")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: -id is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := uuid.Parse(*id); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid identity UUID: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"identity_id": *id,
		"iat":         now.Unix(),
		"exp":         now.Add(*ttl).Unix(),
	})

	signed, err := token.SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: signing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(signed)
}

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/socratic-gateway/internal/auth"
)

var keygenBytes int

var keygenCmd = &cobra.Command{
	Use:   "keygen [secret]",
	Short: "Generate an API_SECRET and print its fingerprint",
	Long: `keygen prints a random shared secret for API_SECRET together with its
SHA-256 fingerprint. Pass an existing secret to fingerprint it instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := ""
		if len(args) == 1 {
			secret = args[0]
		} else {
			if keygenBytes < 16 {
				return fmt.Errorf("--bytes must be at least 16")
			}
			buf := make([]byte, keygenBytes)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			secret = hex.EncodeToString(buf)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "API Secret: %s\n", secret)
		fmt.Fprintf(out, "SHA-256 Fingerprint: %s\n", auth.HashSecret(secret))
		fmt.Fprintln(out, "\nAdd this to your environment:")
		fmt.Fprintf(out, "  API_SECRET=%s\n", secret)
		return nil
	},
}

var (
	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a session token for jwt auth mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" || tokenSubject == "" {
			return fmt.Errorf("--secret and --subject are required")
		}
		now := time.Now()
		token, err := auth.SignSession(tokenSecret, tokenIssuer, tokenSubject, jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	keygenCmd.Flags().IntVar(&keygenBytes, "bytes", 32, "random bytes in the generated secret")

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HMAC secret (AUTH_JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "issuer claim")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "principal the token authenticates")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

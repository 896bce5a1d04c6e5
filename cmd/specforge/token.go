package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/specforge/internal/auth"
	"github.com/p-blackswan/specforge/internal/models"
)

var (
	tokenUserID string
	tokenEmail  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user ID")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	tokenCmd.MarkFlagsOneRequired("user-id", "email")
	tokenCmd.MarkFlagsMutuallyExclusive("user-id", "email")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	st, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var user *models.User
	if tokenUserID != "" {
		user, err = st.GetUser(cmd.Context(), tokenUserID)
	} else {
		user, err = st.GetUserByEmail(cmd.Context(), tokenEmail)
	}
	if err != nil {
		return err
	}

	resolver, err := auth.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, st)
	if err != nil {
		return err
	}
	token, exp, err := resolver.Issue(user)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
	return nil
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/specforge/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var (
	userEmail string
	userName  string
	userTier  string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	RunE:  runUserCreate,
}

var userTierCmd = &cobra.Command{
	Use:   "set-tier <user-id> <tier>",
	Short: "Change a user's subscription tier",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserSetTier,
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "user email (required)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	userCreateCmd.Flags().StringVar(&userTier, "tier", string(models.TierFree), "subscription tier: free, pro or premium")
	_ = userCreateCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userTierCmd)
}

func runUserCreate(cmd *cobra.Command, _ []string) error {
	tier, err := models.ParseTier(userTier)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	u := &models.User{Email: userEmail, Name: userName, Tier: tier}
	if err := st.CreateUser(cmd.Context(), u); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(u)
}

func runUserSetTier(cmd *cobra.Command, args []string) error {
	tier, err := models.ParseTier(args[1])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.UpdateUserTier(cmd.Context(), args[0], tier); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %s is now on the %s tier\n", args[0], tier)
	return nil
}

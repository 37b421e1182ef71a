package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/agentmeter/adapters/clock"
	"github.com/artpar/agentmeter/adapters/sqlite"
	"github.com/artpar/agentmeter/app"
	"github.com/artpar/agentmeter/config"
	"github.com/artpar/agentmeter/domain/key"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage agentmeter API keys.

Each user can have multiple API keys. Agents present a key as a bearer
token when reporting usage; revoked keys stop authenticating but their
recorded events are kept.

Examples:
  agentmeter keys list
  agentmeter keys list --user=user_123
  agentmeter keys create --user=user_123 --name="staging agents"
  agentmeter keys revoke key_abc123
  agentmeter keys rotate key_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <key-id>",
	Short: "Rotate an API key's secret, keeping its identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRotate,
}

var (
	keyUserID string
	keyName   string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	keysCmd.AddCommand(keysRotateCmd)

	keysListCmd.Flags().StringVar(&keyUserID, "user", "", "filter by user ID")
	keysCreateCmd.Flags().StringVar(&keyUserID, "user", "", "user ID (required)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.MarkFlagRequired("user")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	db, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	keyStore := sqlite.NewKeyStore(db)

	var keys []key.Key
	if keyUserID != "" {
		keys, err = keyStore.ListByUser(context.Background(), keyUserID)
	} else {
		keys, err = keyStore.List(context.Background())
	}
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		if keyUserID != "" {
			fmt.Printf("No keys found for user %s.\n", keyUserID)
		} else {
			fmt.Println("No API keys found.")
		}
		fmt.Println()
		fmt.Println("Create a key with: agentmeter keys create --user=<user-id>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tUSER\tNAME\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t----\t----\t------\t-------")

	for _, k := range keys {
		status := "active"
		if k.RevokedAt != nil {
			status = "revoked"
		}
		created := k.CreatedAt.Format("2006-01-02")
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\t%s\n", k.ID, k.Prefix, k.UserID, k.Name, status, created)
	}

	w.Flush()
	return nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	db, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := newKeyService(db, cfg)

	rawKey, keyData, err := svc.Create(context.Background(), keyUserID, keyName)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("%s Created API key for user %s\n", checkMark, keyUserID)
	fmt.Println()
	fmt.Println("API Key (save this, shown once):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Printf("Key ID: %s\n", keyData.ID)

	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	db, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	keyStore := sqlite.NewKeyStore(db)

	k, err := keyStore.GetByID(context.Background(), keyID)
	if err != nil {
		return fmt.Errorf("key not found: %s", keyID)
	}

	if k.RevokedAt != nil {
		fmt.Printf("Key %s is already revoked.\n", keyID)
		return nil
	}

	svc := newKeyService(db, cfg)
	if err := svc.Revoke(context.Background(), keyID); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("%s Revoked key: %s\n", checkMark, keyID)
	return nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	db, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := newKeyService(db, cfg)

	rawKey, _, err := svc.Rotate(context.Background(), keyID)
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	fmt.Printf("%s Rotated key: %s\n", checkMark, keyID)
	fmt.Println()
	fmt.Println("New API key (save this, shown once):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("The old secret no longer authenticates.")

	return nil
}

func newKeyService(db *sqlite.DB, cfg *config.Config) *app.KeyService {
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	return app.NewKeyService(sqlite.NewKeyStore(db), clock.Real{}, cfg.Auth.KeyPrefix, logger)
}

func openDatabase() (*sqlite.DB, *config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, cfg, nil
}

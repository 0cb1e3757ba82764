package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/DropZone/internal/app"
	"github.com/dharsanguruparan/DropZone/internal/config"
	"github.com/dharsanguruparan/DropZone/internal/metrics"
	"github.com/dharsanguruparan/DropZone/internal/share"
	"github.com/dharsanguruparan/DropZone/internal/signing"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random DROPZONE_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("read random: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the stored hash for a share password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := signing.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete every expired share once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			n := a.Sweeper().RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired file(s)\n", n)
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <shareId>",
		Short: "Print the metadata summary of a share as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			info, err := a.Share.Info(cmd.Context(), args[0])
			switch {
			case errors.Is(err, share.ErrNotFound):
				return fmt.Errorf("share %s not found", args[0])
			case errors.Is(err, share.ErrExpired):
				return fmt.Errorf("share %s has expired and was removed", args[0])
			case err != nil:
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <shareId>...",
		Short: "Delete shares now, before they expire",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			var missing []string
			for _, id := range args {
				rec, err := a.Store.Find(ctx, id)
				if errors.Is(err, storage.ErrNotFound) {
					missing = append(missing, id)
					continue
				}
				if err != nil {
					return fmt.Errorf("find %s: %w", id, err)
				}
				if err := a.Expiry.Delete(ctx, rec, metrics.TriggerManual); err != nil {
					return fmt.Errorf("purge %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %s (%s)\n", id, rec.OriginalName)
			}
			if len(missing) > 0 {
				return fmt.Errorf("not found: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

// openApp connects to the configured stores. Logs go to stderr so command
// output stays clean.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	if strings.HasPrefix(cfg.DatabaseURL, "memory://") {
		log.Warn().Msg("DROPZONE_DATABASE_URL is memory://; this command sees an empty store")
	}
	return app.New(cmd.Context(), cfg, log)
}

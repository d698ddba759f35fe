package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/contentmirror/internal/runlock"
)

var (
	lockJSON  bool
	lockForce bool
)

var errLockHeld = errors.New("run lock is held and not stale; use --force to clear it")

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect or clear the run lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the run lock state",
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := lockFromConfig()
		if err != nil {
			return err
		}
		defer func() { _ = runlock.Close(lock) }()
		st, err := lock.Status(cmd.Context())
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), st, lockJSON)
	},
}

var lockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the run lock",
	Long: `Remove the run lock. A stale lock is cleared without --force; a fresh one
belongs to a run that may still be writing and needs --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := lockFromConfig()
		if err != nil {
			return err
		}
		defer func() { _ = runlock.Close(lock) }()
		return clearLock(cmd.Context(), lock, lockForce, cmd.OutOrStdout())
	},
}

func init() {
	lockStatusCmd.Flags().BoolVar(&lockJSON, "json", false, "print JSON instead of YAML")
	lockClearCmd.Flags().BoolVar(&lockForce, "force", false, "clear a lock that is not stale")
	lockCmd.AddCommand(lockStatusCmd, lockClearCmd)
	rootCmd.AddCommand(lockCmd)
}

func lockFromConfig() (runlock.Lock, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openLock(cfg)
}

func clearLock(ctx context.Context, lock runlock.Lock, force bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := lock.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Held {
		fmt.Fprintln(out, "run lock is not held")
		return nil
	}
	if !st.Stale && !force {
		return errLockHeld
	}
	if err := lock.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "run lock cleared (held for %s)\n", st.Age)
	return nil
}

func printStatus(out io.Writer, st runlock.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return err
	}
	return enc.Close()
}

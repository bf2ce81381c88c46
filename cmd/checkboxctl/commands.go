package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mrtnsch/checkboxes/internal/domain"
	"github.com/mrtnsch/checkboxes/internal/platform/version"
	"github.com/mrtnsch/checkboxes/internal/protocol"
	"github.com/spf13/cobra"
)

type storeRunner func(cmd *cobra.Command, fn func(ctx context.Context, store domain.CheckboxStore) error) error

func snapshotCmd(withStore storeRunner) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print how many checkboxes are checked",
		Long:  `Print the checked count, or with --json the full snapshot in the wire format clients receive.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store domain.CheckboxStore) error {
				if !asJSON {
					checked, err := store.Count(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d / %d checked\n", checked, store.Size())
					return nil
				}

				snap, err := store.Snapshot(ctx)
				if err != nil {
					return err
				}
				data, err := json.Marshal(protocol.NewSnapshot(snap, false))
				if err != nil {
					return fmt.Errorf("encode snapshot: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full snapshot as JSON")

	return cmd
}

func getCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "get <index>",
		Short: "Print one checkbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store domain.CheckboxStore) error {
				checked, err := store.GetBit(ctx, index)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), checked)
				return nil
			})
		},
	}
}

func setCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "set <index> <true|false>",
		Short: "Set one checkbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			checked, err := parseState(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store domain.CheckboxStore) error {
				if err := store.SetBit(ctx, index, checked); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checkbox %d set to %t\n", index, checked)
				return nil
			})
		},
	}
}

func clearCmd(withStore storeRunner) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Uncheck every checkbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			return withStore(cmd, func(ctx context.Context, store domain.CheckboxStore) error {
				if err := store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all checkboxes cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing the whole state")

	return cmd
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), info.Version)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}

func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(s)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid index %q: must be a non-negative integer", s)
	}
	return index, nil
}

// parseState accepts exactly the literals the wire protocol uses.
func parseState(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid state %q: must be true or false", s)
	}
}

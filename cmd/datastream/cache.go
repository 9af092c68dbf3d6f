package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
)

func newCacheCmd(rt *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the local dataset cache",
	}
	cmd.AddCommand(newCacheListCmd(rt), newCacheRemoveCmd(rt), newCacheClearCmd(rt))
	return cmd
}

func newCacheListCmd(rt *session) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached datasets",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := rt.app.store.List()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			renderEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCacheRemoveCmd(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY...",
		Aliases: []string{"evict"},
		Short:   "Remove cached datasets and their tables",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, key := range args {
				deleted, err := rt.app.loader.Evict(cmd.Context(), key)
				switch {
				case err != nil:
					errs = append(errs, err)
				case !deleted:
					errs = append(errs, fmt.Errorf("%w: %s", cache.ErrNotFound, key))
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "removed", key)
				}
			}
			return errors.Join(errs...)
		},
	}
}

func newCacheClearCmd(rt *session) *cobra.Command {
	var listings bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached dataset; the reference index is kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.app.loader.Reset(cmd.Context()); err != nil {
				return err
			}
			if listings {
				if err := rt.app.purgeListings(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&listings, "listings", false, "also purge cached catalog listings")
	return cmd
}

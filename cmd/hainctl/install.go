package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Coollin0/Indie-Hain/internal/client"
)

func NewInstallCommand() *cobra.Command {
	var platform, channel, version, outDir string
	var workers int

	cmd := &cobra.Command{
		Use:   "install <slug>",
		Short: "Download and verify a build into a local directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, session, err := newAPI()
			if err != nil {
				return err
			}
			ctx := context.Background()
			slug := args[0]

			m, err := api.GetManifest(ctx, slug, platform, channel, version)
			if err != nil {
				if client.IsPurchaseRequired(err) {
					return fmt.Errorf("%s is not in your library; purchase it first", slug)
				}
				return err
			}

			dir := outDir
			if dir == "" {
				dir = slug
			}
			opts := &client.InstallOptions{
				Workers: workers,
				OnLog:   func(msg string) { fmt.Println(msg) },
			}
			if err := client.Install(ctx, api, m, dir, opts); err != nil {
				// Corruption is not a "try again" failure; say so.
				if errors.Is(err, client.ErrChunkCorrupt) || errors.Is(err, client.ErrFileCorrupt) {
					return fmt.Errorf("build is corrupt on the server side: %w", err)
				}
				return err
			}
			if err := saveTokens(api, session); err != nil {
				return err
			}
			fmt.Printf("installed %s %s to %s\n", slug, m.Version, dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "windows", "windows, linux or mac")
	cmd.Flags().StringVar(&channel, "channel", "stable", "stable or beta")
	cmd.Flags().StringVar(&version, "version", "", "exact version (default: newest)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "install directory (default: ./<slug>)")
	cmd.Flags().IntVar(&workers, "workers", client.DefaultInstallWorkers, "parallel chunk downloads")

	return cmd
}

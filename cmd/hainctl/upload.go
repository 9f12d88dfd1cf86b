package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Coollin0/Indie-Hain/internal/client"
)

func NewUploadCommand() *cobra.Command {
	var slug, title, version, platform, channel string

	cmd := &cobra.Command{
		Use:   "upload <folder>",
		Short: "Upload a build tree: diff missing chunks, push them, finalize.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, session, err := newAPI()
			if err != nil {
				return err
			}
			ctx := context.Background()

			appID, err := ensureApp(ctx, api, slug, title)
			if err != nil {
				return err
			}

			opts := &client.UploadOptions{
				OnLog: func(msg string) { fmt.Println(msg) },
			}
			manifestURL, err := client.Upload(ctx, api, appID, slug, version, platform, channel, args[0], opts)
			if err != nil {
				return err
			}
			if err := saveTokens(api, session); err != nil {
				return err
			}
			fmt.Printf("manifest: %s\n", manifestURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&slug, "slug", "", "app slug")
	cmd.Flags().StringVar(&title, "title", "", "app title (used when creating the app)")
	cmd.Flags().StringVar(&version, "version", "", "build version")
	cmd.Flags().StringVar(&platform, "platform", "windows", "windows, linux or mac")
	cmd.Flags().StringVar(&channel, "channel", "stable", "stable or beta")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

// ensureApp finds the caller's app by slug or creates it.
func ensureApp(ctx context.Context, api *client.API, slug, title string) (uint, error) {
	apps, err := api.MyApps(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range apps {
		if a.Slug == slug {
			return a.ID, nil
		}
	}
	if title == "" {
		title = slug
	}
	return api.CreateApp(ctx, slug, title)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "hainctl",
		Short: "Publisher and install client for the Indie-Hain distribution service.",
	}

	rootCmd.AddCommand(NewRegisterCommand())
	rootCmd.AddCommand(NewLoginCommand())
	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewInstallCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Casvt/Kapowarr-sub000/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kapowarr",
		Short: "Comic-book library automation",
		Long:  "Kapowarr manages a comic library: it searches, downloads, imports and renames issues.",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the config directory or config.toml")

	rootCmd.AddCommand(RunServeCommand(&configPath))
	rootCmd.AddCommand(RunDBCommand(&configPath))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), buildinfo.String())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

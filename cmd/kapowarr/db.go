// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/Casvt/Kapowarr-sub000/internal/config"
	"github.com/Casvt/Kapowarr-sub000/internal/database"
)

func RunDBCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(*configPath)
			if err != nil {
				return err
			}
			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return err
			}
			defer db.Close()

			var version int
			if err := db.Conn().QueryRowContext(cmd.Context(),
				"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
				return err
			}
			cmd.Printf("Database at %s is at schema version %d\n", cfg.GetDatabasePath(), version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the database file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(*configPath)
			if err != nil {
				return err
			}
			cmd.Println(cfg.GetDatabasePath())
			return nil
		},
	})

	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/sharegate/internal/config"
	"github.com/sharegate/internal/db"
	"github.com/sharegate/internal/service"
	"github.com/spf13/cobra"
)

func newInitAdminCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "init-admin",
		Short: "Create an admin user with a bcrypt hashed password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := db.Init(cfg.DatabasePath); err != nil {
				return err
			}
			created, err := db.EnsureUser(db.DB, username, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s created\n", username)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s already exists\n", username)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Admin username (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Admin password (required)")
	return cmd
}

var demoPosts = []service.PostInput{
	{ID: "demo-public", AuthorID: "alice", Title: "Weekend match recap", Content: "What a game!", AllowShare: true},
	{ID: "demo-friends", AuthorID: "alice", Title: "Team dinner photos", Privacy: "friends", AllowShare: true},
	{ID: "demo-private", AuthorID: "bob", Title: "Draft notes", Privacy: "private", AllowShare: true},
	{ID: "demo-locked", AuthorID: "bob", Title: "Announcement", AllowShare: false},
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create demo posts for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := db.Init(cfg.DatabasePath); err != nil {
				return err
			}
			posts := service.NewPostService(db.DB)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			for _, input := range demoPosts {
				if _, err := posts.Get(ctx, input.ID); err == nil {
					continue
				}
				if _, err := posts.Create(ctx, input); err != nil {
					return fmt.Errorf("seed %s: %w", input.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created post %s\n", input.ID)
			}
			return nil
		},
	}
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/storage"
	"github.com/urfave/cli/v3"
)

// UsersCommand creates the users command
func UsersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Manage users and issue access tokens",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a user",
				ArgsUsage: "<username>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.StringFlag{Name: "avatar", Usage: "Profile picture URL"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					username := c.Args().First()
					if username == "" {
						return fmt.Errorf("username is required")
					}
					return withStore(ctx, c, func(store *storage.Store) error {
						u, err := store.CreateUser(ctx, core.User{
							Username:  username,
							Name:      c.String("name"),
							AvatarURL: c.String("avatar"),
						})
						if err != nil {
							return err
						}
						fmt.Printf("Created user %s (%s)\n", u.Username, u.ID)
						return nil
					})
				},
			},
			{
				Name:      "search",
				Usage:     "Find users whose username contains a pattern",
				ArgsUsage: "<pattern>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: core.DefaultSearchLimit,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					pattern := strings.TrimSpace(c.Args().First())
					if pattern == "" {
						return fmt.Errorf("search pattern is required")
					}
					return withStore(ctx, c, func(store *storage.Store) error {
						profiles, err := store.FindUsersByPattern(ctx, pattern, int(c.Int("limit")))
						if err != nil {
							return err
						}
						if len(profiles) == 0 {
							fmt.Println("No users found")
							return nil
						}
						for _, p := range profiles {
							fmt.Printf("%s  %-20s %s\n", p.ID, p.Username, p.Name)
						}
						return nil
					})
				},
			},
			{
				Name:      "token",
				Usage:     "Issue a signed access token for a user",
				ArgsUsage: "<user-id>",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime (defaults to auth.token_ttl)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					id := core.UserID(c.Args().First())
					if err := core.ValidateUserID("user-id", id); err != nil {
						return err
					}
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					authn, err := newAuthenticator(cfg)
					if err != nil {
						return err
					}
					store, err := openStore(ctx, cfg)
					if err != nil {
						return err
					}
					defer store.Close()

					if _, err := store.GetUser(ctx, id); err != nil {
						return err
					}
					ttl := c.Duration("ttl")
					if ttl <= 0 {
						ttl = cfg.Auth.TokenTTL.Duration
					}
					token, err := authn.Issue(id, ttl)
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				},
			},
		},
	}
}

// withStore loads the configuration, opens the store and runs fn with it.
func withStore(ctx context.Context, c *cli.Command, fn func(*storage.Store) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

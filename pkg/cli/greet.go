package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func greetCommand() *cli.Command {
	var (
		cfg        config
		identityID model.IdentityID
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "Identity ID to greet",
			Destination: (*string)(&identityID),
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, greetingFlags(&cfg)...)

	return &cli.Command{
		Name:  "greet",
		Usage: "Play the greeting of an identity, synthesizing and caching it when needed",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			cache, err := cfg.newCache(ctx, repo)
			if err != nil {
				return err
			}
			player, closePlayer := cfg.newPlayer(ctx)
			defer closePlayer()

			audio, err := identity.New(repo, identity.WithGreeting(cache, player)).Preview(ctx, identityID)
			if err != nil {
				return goerr.Wrap(err, "failed to greet")
			}

			fmt.Fprintf(c.Root().Writer, "played %.1fs greeting for %s\n", audio.Duration(), identityID)
			return nil
		},
	}
}

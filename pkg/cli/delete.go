package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func deleteCommand() *cli.Command {
	var (
		cfg        config
		identityID model.IdentityID
		yes        bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "Identity ID to delete",
			Destination: (*string)(&identityID),
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Delete without confirmation",
			Destination: &yes,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "delete",
		Usage: "Delete an enrolled identity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			uc := identity.New(repo)
			x, err := uc.Show(ctx, identityID)
			if err != nil {
				return goerr.Wrap(err, "failed to get identity")
			}

			if !yes {
				ok, err := confirm(fmt.Sprintf("Delete %s (%s)? [y/N]: ", x.Name, x.ID))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(c.Root().Writer, "cancelled")
					return nil
				}
			}

			if err := uc.Delete(ctx, identityID); err != nil {
				return goerr.Wrap(err, "failed to delete identity")
			}

			fmt.Fprintf(c.Root().Writer, "deleted %s\n", identityID)
			return nil
		},
	}
}

// confirm asks a yes/no question on the terminal. Ctrl-C and EOF mean no.
func confirm(prompt string) (bool, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return false, goerr.Wrap(err, "failed to open terminal")
	}
	defer rl.Close()

	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to read answer")
	}

	return isYes(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

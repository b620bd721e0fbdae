package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

type identityView struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	DateOfBirth string  `yaml:"date_of_birth,omitempty"`
	Age         *int    `yaml:"age,omitempty"`
	Embeddings  int     `yaml:"embeddings"`
	Dimension   int     `yaml:"dimension"`
	Greeting    float64 `yaml:"greeting_seconds,omitempty"`
	CreatedAt   string  `yaml:"created_at"`
	UpdatedAt   string  `yaml:"updated_at"`
}

func showCommand() *cli.Command {
	var (
		cfg        config
		identityID model.IdentityID
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "Identity ID to show",
			Destination: (*string)(&identityID),
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show an enrolled identity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			x, err := identity.New(repo).Show(ctx, identityID)
			if err != nil {
				return goerr.Wrap(err, "failed to show identity")
			}

			view := identityView{
				ID:         x.ID.String(),
				Name:       x.Name,
				Embeddings: len(x.Embeddings),
				Dimension:  x.Dimension(),
				Greeting:   x.GreetingAudio.Duration(),
				CreatedAt:  x.CreatedAt.Format("2006-01-02 15:04:05"),
				UpdatedAt:  x.UpdatedAt.Format("2006-01-02 15:04:05"),
			}
			if x.DateOfBirth != nil {
				view.DateOfBirth = x.DateOfBirth.Format(dateLayout)
			}
			if age, ok := x.Age(time.Now()); ok {
				view.Age = &age
			}

			data, err := yaml.Marshal(view)
			if err != nil {
				return goerr.Wrap(err, "failed to marshal identity")
			}

			fmt.Fprint(c.Root().Writer, string(data))
			return nil
		},
	}
}

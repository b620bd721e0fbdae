package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List enrolled identities",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			identities, err := identity.New(repo).List(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to list identities")
			}

			w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEMBEDDINGS\tGREETING\tCREATED")
			for _, x := range identities {
				cached := "-"
				if x.GreetingAudio != nil {
					cached = fmt.Sprintf("%.1fs", x.GreetingAudio.Duration())
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					x.ID, x.Name, len(x.Embeddings), cached, x.CreatedAt.Format(dateLayout))
			}
			return w.Flush()
		},
	}
}

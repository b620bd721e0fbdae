package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const dateLayout = "2006-01-02"

func enrollCommand() *cli.Command {
	var (
		cfg         config
		name        string
		dob         string
		images      []string
		addTo       string
		pregenerate bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Name of the person",
			Destination: &name,
		},
		&cli.StringFlag{
			Name:        "dob",
			Usage:       "Date of birth (YYYY-MM-DD)",
			Destination: &dob,
		},
		&cli.StringSliceFlag{
			Name:        "image",
			Aliases:     []string{"i"},
			Usage:       "Photo of the person, repeat for several photos",
			Destination: &images,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "add-to",
			Usage:       "Add photos to an enrolled identity instead of creating one",
			Destination: &addTo,
		},
		&cli.BoolFlag{
			Name:        "pregenerate",
			Usage:       "Synthesize and cache the greeting right after enrollment",
			Sources:     cli.EnvVars("FACEGREET_PREGENERATE"),
			Destination: &pregenerate,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, greetingFlags(&cfg)...)
	flags = append(flags, detectorFlags(&cfg)...)

	return &cli.Command{
		Name:  "enroll",
		Usage: "Enroll a person from one or more photos",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if addTo == "" && name == "" {
				return goerr.New("name is required")
			}

			var birth *time.Time
			if dob != "" {
				t, err := time.Parse(dateLayout, dob)
				if err != nil {
					return goerr.Wrap(err, "invalid date of birth", goerr.V("dob", dob))
				}
				birth = &t
			}

			input := make([]identity.Image, 0, len(images))
			for _, path := range images {
				data, err := os.ReadFile(path)
				if err != nil {
					return goerr.Wrap(err, "failed to read image", goerr.V("path", path))
				}
				input = append(input, identity.Image{Name: filepath.Base(path), Data: data})
			}

			// Initialize dependencies
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			detector, err := cfg.newDetector()
			if err != nil {
				return err
			}
			defer detector.Close()

			opts := []identity.Option{identity.WithDetector(detector)}
			if pregenerate {
				cache, err := cfg.newCache(ctx, repo)
				if err != nil {
					return err
				}
				opts = append(opts,
					identity.WithGreeting(cache, nil),
					identity.WithPregenerate(true))
			}
			uc := identity.New(repo, opts...)

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			s.Suffix = fmt.Sprintf(" detecting faces in %d image(s)", len(input))
			s.Start()

			var x *model.Identity
			if addTo != "" {
				x, err = uc.AddImages(ctx, model.IdentityID(addTo), input)
			} else {
				x, err = uc.Enroll(ctx, identity.EnrollInput{
					Name:        name,
					DateOfBirth: birth,
					Images:      input,
				})
			}
			if err != nil {
				s.Stop()
				return goerr.Wrap(err, "failed to enroll")
			}

			if pregenerate {
				s.Lock()
				s.Suffix = " synthesizing greeting"
				s.Unlock()
				uc.Wait()
			}
			s.Stop()

			fmt.Fprintf(c.Root().Writer, "%s\t%s\t%d embedding(s)\n", x.ID, x.Name, len(x.Embeddings))
			return nil
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func settingCommand() *cli.Command {
	return &cli.Command{
		Name:  "setting",
		Usage: "Read or write stored settings",
		Commands: []*cli.Command{
			settingSetCommand(),
			settingGetCommand(),
		},
	}
}

func settingKeys() string {
	keys := make([]string, len(model.Settings))
	for i, k := range model.Settings {
		keys[i] = string(k)
	}
	return strings.Join(keys, ", ")
}

func settingSetCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "set",
		Usage:     "Store a setting (" + settingKeys() + ")",
		ArgsUsage: "<key> <value>",
		Flags:     globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if c.Args().Len() != 2 {
				return goerr.New("key and value are required", goerr.V("args", c.Args().Slice()))
			}
			key := model.SettingKey(c.Args().Get(0))
			value := c.Args().Get(1)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			if err := identity.New(repo).SetSetting(ctx, key, value); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "%s updated\n", key)
			return nil
		},
	}
}

func settingGetCommand() *cli.Command {
	var (
		cfg    config
		reveal bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "reveal",
			Usage:       "Print API keys in clear text",
			Destination: &reveal,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:      "get",
		Usage:     "Print stored settings, all of them when no key is given",
		ArgsUsage: "[key]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			keys := model.Settings
			if c.Args().Len() > 0 {
				keys = []model.SettingKey{model.SettingKey(c.Args().First())}
			}

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			uc := identity.New(repo)
			for _, key := range keys {
				value, ok, err := uc.GetSetting(ctx, key)
				if err != nil {
					return err
				}
				if !ok {
					value = "(not set)"
				} else if isSecret(key) && !reveal {
					value = mask(value)
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\n", key, value)
			}
			return nil
		},
	}
}

func isSecret(key model.SettingKey) bool {
	return key == model.SettingGoogleAPIKey || key == model.SettingOpenAIAPIKey
}

// mask keeps the last four characters of a secret
func mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

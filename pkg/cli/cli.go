package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// Run executes the facegreet command. A .env file in the working directory,
// or the file named by FACEGREET_ENV_FILE, is loaded first so that flags can
// read API keys from it.
func Run(ctx context.Context, argv []string) *Error {
	if err := loadEnv(os.Getenv("FACEGREET_ENV_FILE")); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	cmd := &cli.Command{
		Name:  "facegreet",
		Usage: "Recognize enrolled faces and greet people by name",
		Commands: []*cli.Command{
			runCommand(),
			enrollCommand(),
			listCommand(),
			showCommand(),
			deleteCommand(),
			settingCommand(),
			greetCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// loadEnv loads path, or ./.env when path is empty. A missing default file
// is not an error. Variables already set in the environment win.
func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

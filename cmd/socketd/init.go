package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/socketd-go/socketd/internal/config"
	"github.com/socketd-go/socketd/internal/errors"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a socketd.yaml with the default settings",
		Long: `Write a socketd.yaml holding every setting at its default value.

Examples:
  socketd init
  socketd init deploy/ --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path := filepath.Join(dir, config.ConfigFileName)

			if _, err := os.Stat(path); err == nil && !force {
				return errors.New("E140").
					WithDetail(path + " already exists").
					WithSuggestion("Use --force to overwrite it.")
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.New("E101").Wrap(err)
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

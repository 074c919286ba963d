package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/explainbot/internal/config"
)

// ConfigCommand returns the CLI command group for configuration management.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage ExplainBot configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Create a sample configuration file",
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if path == "" {
						path = "explainbot.toml"
					}
					if err := config.InitConfig(path); err != nil {
						return err
					}
					fmt.Printf("Created configuration file at %s\n", path)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Validate the configuration file",
				Action: func(c *cli.Context) error {
					cfg, err := config.LoadConfig(c.String("config"))
					if err != nil {
						return err
					}
					if err := config.Validate(cfg); err != nil {
						return err
					}
					fmt.Println("Configuration is valid")
					return nil
				},
			},
		},
	}
}

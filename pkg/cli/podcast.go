package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func ideasCommand() *cli.Command {
	var (
		cfg      config
		theme    string
		previous string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "theme",
			Aliases:     []string{"t"},
			Usage:       "Podcast theme",
			Destination: &theme,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "previous",
			Usage:       "Previous episodes to avoid repeating, separated by ';'",
			Destination: &previous,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "ideas",
		Usage: "Generate three episode ideas for a theme without using memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			uc, err := cfg.newPodcast(ctx)
			if err != nil {
				return err
			}

			ideas, err := uc.GenerateIdeas(ctx, theme, previous)
			if err != nil {
				return goerr.Wrap(err, "failed to generate ideas")
			}

			fmt.Fprintln(c.Root().Writer, ideas)
			return nil
		},
	}
}

func scriptCommand() *cli.Command {
	var (
		cfg      config
		title    string
		outline  string
		duration string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "title",
			Aliases:     []string{"t"},
			Usage:       "Episode title",
			Destination: &title,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "outline",
			Usage:       "Short outline of the episode",
			Destination: &outline,
		},
		&cli.StringFlag{
			Name:        "duration",
			Usage:       "Target duration, e.g. '30 min'",
			Destination: &duration,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "script",
		Usage: "Create a script template for an episode without using memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			uc, err := cfg.newPodcast(ctx)
			if err != nil {
				return err
			}

			script, err := uc.CreateScript(ctx, title, outline, duration)
			if err != nil {
				return goerr.Wrap(err, "failed to create script")
			}

			fmt.Fprintln(c.Root().Writer, script)
			return nil
		},
	}
}

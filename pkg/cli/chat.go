package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const chatApology = "Sorry, something went wrong. Please try again."

type lineReader interface {
	Readline() (string, error)
}

// responder answers one chat message
type responder func(ctx context.Context, message string) (string, error)

func chatCommand() *cli.Command {
	var (
		cfg         config
		historyFile string
		noSpinner   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "File to keep input history. Defaults to ~/.castmate_history",
			Sources:     cli.EnvVars("CASTMATE_HISTORY_FILE"),
			Destination: &historyFile,
		},
		&cli.BoolFlag{
			Name:        "no-spinner",
			Usage:       "Do not show a spinner while waiting for the assistant",
			Destination: &noSpinner,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat with the podcast assistant",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if historyFile == "" {
				if home, err := os.UserHomeDir(); err == nil {
					historyFile = filepath.Join(home, ".castmate_history")
				}
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          c.Root().Writer,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat session started (owner: %s). Type 'exit' to quit.\n", a.owner)
			fmt.Fprintf(w, "Commands: \"generate ideas: <theme>\", \"create script: <title>: <outline>: <duration>\"\n\n")

			handle := func(ctx context.Context, message string) (string, error) {
				reply, err := a.router.Handle(ctx, a.owner, message)
				if err != nil {
					return "", err
				}
				return reply.Text, nil
			}
			if !noSpinner {
				handle = withSpinner(w, handle)
			}

			if err := chatLoop(ctx, rl, w, a.owner, handle); err != nil {
				return err
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}

func withSpinner(w io.Writer, next responder) responder {
	return func(ctx context.Context, message string) (string, error) {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
		s.Suffix = " thinking..."
		s.Start()
		defer s.Stop()
		return next(ctx, message)
	}
}

// chatLoop reads messages until EOF, interrupt or "exit". Failures of a single
// message are reported and the session continues.
func chatLoop(ctx context.Context, lines lineReader, w io.Writer, owner model.OwnerID, handle responder) error {
	for {
		line, err := lines.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return goerr.Wrap(err, "failed to read input")
		}

		message := strings.TrimSpace(line)
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			return nil
		}

		text, err := handle(ctx, message)
		if err != nil {
			logging.From(ctx).Error("failed to handle message", "error", err, "owner_id", owner)
			fmt.Fprintln(w, chatApology)
			continue
		}

		fmt.Fprintf(w, "\n%s\n\n", text)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"ai-talker/internal/app"
	"ai-talker/internal/console"
	"ai-talker/internal/domain"
)

type scopeFlags struct {
	orgID   string
	useCase string
	botName string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.orgID, "org", "", "override scope.org_id")
	cmd.Flags().StringVar(&f.useCase, "use-case", "", "override scope.use_case")
	cmd.Flags().StringVar(&f.botName, "bot", "", "override scope.bot_name")
}

func (f *scopeFlags) apply(s domain.Scope) domain.Scope {
	if f.orgID != "" {
		s.OrgID = f.orgID
	}
	if f.useCase != "" {
		s.UseCase = f.useCase
	}
	if f.botName != "" {
		s.BotName = f.botName
	}
	return s
}

func newChatCmd(g *globalOptions) *cobra.Command {
	var (
		stepIDs []string
		scope   scopeFlags
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Long: `Runs one guided conversation on stdin/stdout. Without --steps the sequence
comes from steps.sequence, then from the tenant's connection field, and
otherwise from a numbered choice of catalog steps.
Type exit, quit or bye to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}

			var printer *console.Printer
			if f, ok := cmd.OutOrStdout().(*os.File); ok {
				if printer, err = console.NewTerminalPrinter(f); err != nil {
					return err
				}
			} else {
				printer = console.NewPrinter(cmd.OutOrStdout())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := app.New(ctx, cfg, logger, app.WithHooks(printer.Hooks()))
			if err != nil {
				return err
			}
			defer a.Close()

			sc := scope.apply(cfg.Scope.Scope())
			input := console.NewReader(cmd.InOrStdin(), cmd.OutOrStdout())
			sequence := stepIDs
			if len(sequence) == 0 {
				sequence = cfg.Steps.Sequence
			}
			if len(sequence) == 0 {
				svc, err := a.ConversationService()
				if err != nil {
					return err
				}
				if sequence, err = svc.DefaultSequence(ctx, sc); err != nil {
					logger.Info("no configured step sequence, asking", "err", err)
					if sequence, err = console.SelectSteps(ctx, input, a.Catalog.IDs()); err != nil {
						return fmt.Errorf("no step sequence: %w", err)
					}
				}
			}

			d, err := a.Engine.Start(sequence, sc)
			if err != nil {
				return err
			}
			printer.Println("Welcome to the AI Chat Interface!")
			turns, runErr := d.Run(ctx, input)
			printer.Println()
			printer.Println("Thank you for chatting!")

			path, err := a.Archiver.Archive(context.WithoutCancel(ctx), d.ID(), turns)
			if err != nil {
				return err
			}
			printer.Println("Conversation saved to", path)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&stepIDs, "steps", nil, "comma-separated step ids")
	scope.register(cmd)
	return cmd
}

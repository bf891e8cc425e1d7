package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ai-talker/internal/app"
	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
)

type replayFile struct {
	Dialogues []replayDialogue `yaml:"dialogues"`
}

type replayDialogue struct {
	Name   string      `yaml:"name"`
	Steps  []string    `yaml:"steps"`
	Scope  replayScope `yaml:"scope"`
	Inputs []string    `yaml:"inputs"`
}

type replayScope struct {
	OrgID   string `yaml:"org_id"`
	UseCase string `yaml:"use_case"`
	BotName string `yaml:"bot_name"`
}

func loadReplay(path string) (*replayFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	var f replayFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("replay: decode %s: %w", path, err)
	}
	if len(f.Dialogues) == 0 {
		return nil, fmt.Errorf("replay: %s has no dialogues", path)
	}
	return &f, nil
}

func newReplayCmd(g *globalOptions) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Run scripted dialogues concurrently and archive their transcripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			if concurrency > 0 {
				cfg.Limits.Concurrency = concurrency
			}
			script, err := loadReplay(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs := make([]dialogue.Job, len(script.Dialogues))
			for i, sd := range script.Dialogues {
				name := sd.Name
				if name == "" {
					name = fmt.Sprintf("dialogue-%d", i+1)
				}
				sequence := sd.Steps
				if len(sequence) == 0 {
					sequence = cfg.Steps.Sequence
				}
				sc := cfg.Scope.Scope()
				if sd.Scope != (replayScope{}) {
					sc = domain.Scope{OrgID: sd.Scope.OrgID, UseCase: sd.Scope.UseCase, BotName: sd.Scope.BotName}
				}
				jobs[i] = dialogue.Job{
					Name:     name,
					Sequence: sequence,
					Scope:    sc,
					Input:    dialogue.NewScript(sd.Inputs...),
				}
			}

			results := a.Engine.RunAll(ctx, jobs, cfg.Limits.Concurrency)
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "%s: failed: %v\n", r.Name, r.Err)
					continue
				}
				path, err := a.Archiver.Archive(context.WithoutCancel(ctx), r.ID, r.Turns)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: archive failed: %v\n", r.Name, err)
					continue
				}
				fmt.Fprintf(out, "%s: %d turns, saved to %s\n", r.Name, len(r.Turns), path)
			}
			if failed > 0 {
				return fmt.Errorf("replay: %d of %d dialogues failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "dialogues in flight (overrides limits.concurrency)")
	return cmd
}

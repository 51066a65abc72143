// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/fitbeat/cmd/fitbeat/config"
	"github.com/AleutianAI/fitbeat/pkg/logging"
	"github.com/AleutianAI/fitbeat/pkg/ux"
	"github.com/AleutianAI/fitbeat/services/orchestrator"
	"github.com/AleutianAI/fitbeat/services/orchestrator/agent"
	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string
	secretsDir string
	logLevel   string

	cfg     *config.FitBeatConfig
	secrets *config.Secrets
	logger  *logging.Logger
	printer *ux.Printer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "fitbeat",
		Short:         "Recommend workout playlists from your track catalog",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.fitbeat/fitbeat.yaml)")
	root.PersistentFlags().StringVar(&a.secretsDir, "secrets-dir", config.DefaultSecretsDir, "directory holding secret files")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRecommendCmd(a),
		newServeCmd(a),
		newIndexCmd(a),
		newMemoryCmd(a),
	)
	return root
}

// init loads configuration, secrets and logging. The printer is created
// first so config errors are reported consistently.
func (a *app) init(cmd *cobra.Command) error {
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), ux.DetectMode(os.Stdout))

	path := a.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			a.printer.Error(err.Error())
			return err
		}
	}
	cfg, created, err := config.Load(path, nil)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	if created {
		a.printer.Info(fmt.Sprintf("First run detected, created the config at %s", path))
	}
	a.cfg = cfg

	a.secrets, err = config.LoadSecrets(a.secretsDir, nil)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "fitbeat",
		JSON:    cfg.Logging.JSON,
	})
	return nil
}

// fail prints err and returns it so cobra exits non-zero.
func (a *app) fail(err error) error {
	a.printer.Error(err.Error())
	return err
}

func (a *app) newService(cmd *cobra.Command) (orchestrator.Service, error) {
	svcCfg, err := serviceConfig(a.cfg, a.secrets, a.printer.Rich())
	if err != nil {
		return nil, err
	}
	return orchestrator.New(cmd.Context(), svcCfg, a.logger.Slog())
}

// =============================================================================
// recommend
// =============================================================================

func newRecommendCmd(a *app) *cobra.Command {
	var req agent.Request
	cmd := &cobra.Command{
		Use:   "recommend [prompt]",
		Short: "Plan and build a playlist for a free-text request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")

			svc, err := a.newService(cmd)
			if err != nil {
				return a.fail(err)
			}
			defer svc.Close()

			var state *plan.State
			err = a.printer.WithSpinner("Building your playlist", func() error {
				var runErr error
				state, runErr = svc.Agent().Recommend(cmd.Context(), req)
				return runErr
			})
			if err != nil {
				var execErr *plan.ExecutionError
				if errors.As(err, &execErr) && state != nil && len(state.Completed) > 0 {
					a.printer.Warning(fmt.Sprintf("Completed steps: %s", strings.Join(plan.Plan(state.Completed).Names(), ", ")))
				}
				return err
			}
			printState(a.printer, state)
			return nil
		},
	}
	cmd.Flags().IntVarP(&req.NumTracks, "num-tracks", "n", 0, "number of tracks (default from config)")
	cmd.Flags().StringVar(&req.Session, "session", "", "conversation session to remember requests in")
	return cmd
}

// printState renders a finished run.
func printState(p *ux.Printer, state *plan.State) {
	if state.Summary != "" {
		p.Println(state.Summary)
	} else {
		p.Title(fmt.Sprintf("Playlist %s (%d tracks)", state.Label, len(state.Tracks)))
		for i, t := range state.Tracks {
			p.Println(fmt.Sprintf("%2d. %s", i+1, t.String()))
		}
	}
	if state.Playlist != nil {
		for _, loc := range state.Playlist.Locations {
			p.Success("Saved playlist to " + loc)
		}
	}
	if r := state.Retrieval; r != nil {
		p.Success(fmt.Sprintf("Downloaded %d tracks to %s", len(r.Files), r.Dir))
		for _, f := range r.Failed {
			p.Warning("Could not download " + f)
		}
	}
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the recommendation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService(cmd)
			if err != nil {
				return a.fail(err)
			}
			defer svc.Close()

			a.printer.Info(fmt.Sprintf("Listening on :%d", a.cfg.Server.Port))
			if err := svc.Run(cmd.Context()); err != nil {
				return a.fail(err)
			}
			return nil
		},
	}
}

// =============================================================================
// index
// =============================================================================

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: `Embed "<artist> - <title>.txt" context files into the vector index`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService(cmd)
			if err != nil {
				return a.fail(err)
			}
			defer svc.Close()

			stats, err := svc.Indexer().IndexDirectory(cmd.Context(), args[0])
			if err != nil {
				return a.fail(err)
			}
			a.printer.Success(fmt.Sprintf("Indexed %d of %d files (%d skipped, %d failed)",
				stats.Indexed, stats.Files, stats.Skipped, stats.Failed))
			return nil
		},
	}
}

// =============================================================================
// memory
// =============================================================================

func newMemoryCmd(a *app) *cobra.Command {
	var (
		session string
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear conversation memory",
	}
	cmd.PersistentFlags().StringVar(&session, "session", "", "conversation session (default session when empty)")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the remembered summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService(cmd)
			if err != nil {
				return a.fail(err)
			}
			defer svc.Close()

			summary, err := svc.Memory().Summary(cmd.Context(), session)
			if err != nil {
				return a.fail(err)
			}
			if summary == "" {
				a.printer.Info("Nothing remembered yet")
				return nil
			}
			a.printer.Box("Memory", summary)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the remembered summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && a.printer.Rich() {
				confirmed := false
				err := huh.NewConfirm().
					Title("Clear conversation memory?").
					Affirmative("Clear").
					Negative("Keep").
					Value(&confirmed).
					Run()
				if err != nil {
					return a.fail(err)
				}
				if !confirmed {
					a.printer.Info("Memory kept")
					return nil
				}
			}

			svc, err := a.newService(cmd)
			if err != nil {
				return a.fail(err)
			}
			defer svc.Close()

			if err := svc.Memory().Clear(cmd.Context(), session); err != nil {
				return a.fail(err)
			}
			a.printer.Success("Memory cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(showCmd, clearCmd)
	return cmd
}

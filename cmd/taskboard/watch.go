package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"taskboard/client"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/render"
	"taskboard/session"
)

const clearScreen = "\033[H\033[2J"

func watchCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the board live in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := newSession(ctx, cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			s.OnChange(func(v session.View) {
				fmt.Fprint(out, clearScreen+render.Board(v, width, render.Default)+"\n")
			})
			logger.WithField("url", cfg.ServerURL).Debug("watching board")
			if err := s.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 120, "board width in columns")
	return cmd
}

// newSession connects to TASKBOARD_URL with the server's roster so activity
// is attributed the same way everywhere.
func newSession(ctx context.Context, cfg config.Config) (*session.Session, error) {
	c := client.New(cfg.ServerURL)
	users, err := c.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	roster := domain.NewRoster(users)
	if cfg.Actor != 0 {
		if _, ok := roster.Lookup(cfg.Actor); !ok {
			return nil, fmt.Errorf("TASKBOARD_ACTOR %d is not on the roster", cfg.Actor)
		}
	}
	return session.New(c, session.Options{
		Roster: roster,
		Actor:  cfg.Actor,
		Cache:  session.NewLocalCache(cfg.CachePath, nil),
	}), nil
}

func addCmd() *cobra.Command {
	var d domain.Draft
	var assignee int64
	var status, priority string
	cmd := &cobra.Command{
		Use:   "add TITLE",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Title = args[0]
			d.Status = domain.Status(status)
			d.Priority = domain.Priority(priority)
			if assignee != 0 {
				d.AssignedTo = &assignee
			}
			return withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return s.Create(ctx, d)
			})
		},
	}
	cmd.Flags().StringVarP(&d.Description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Todo, InProgress or Done")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().Int64VarP(&assignee, "assign", "a", 0, "roster user id")
	return cmd
}

func moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move ID STATUS",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return s.Move(ctx, id, domain.Status(args[1]))
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return s.Delete(ctx, id)
			})
		},
	}
}

func withSession(cmd *cobra.Command, fn func(context.Context, *session.Session) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if err := fn(cmd.Context(), s); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "submitted")
	return nil
}

func parseID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", v)
	}
	return id, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/edgerpc/internal/config"
	"github.com/danmuck/edgerpc/internal/logging"
	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/danmuck/edgerpc/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type rootOptions struct {
	configPath string
	service    string
	timeout    time.Duration
	logLevel   string
	metrics    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "svcctl",
		Short:         "Invoke methods on remote services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "svc.toml", "service config file")
	root.PersistentFlags().StringVar(&opts.service, "service", "", "service name (optional for single-service files)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "overall deadline for one command")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override")
	root.PersistentFlags().StringVar(&opts.metrics, "metrics-addr", "", "serve prometheus metrics on this address while the command runs")

	root.AddCommand(
		newCallCmd(opts),
		newMethodsCmd(opts),
		newInitCmd(),
	)
	return root
}

// load reads the config and builds the selected service.
func (o *rootOptions) load() (*service.Service, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	if level != "" && !logging.SetLevel(level) {
		log.Warn().Str("level", level).Msg("unknown log level ignored")
	}

	sc, err := cfg.Service(o.service)
	if err != nil {
		return nil, err
	}
	if o.metrics != "" {
		serveMetrics(o.metrics)
	}
	return sc.Build()
}

func newCallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [args...]",
		Short: "Invoke a method and print every reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseArgs(args[1:])
			if err != nil {
				return err
			}
			svc, err := opts.load()
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			ch, err := svc.Invoke(ctx, args[0], callArgs...)
			if err != nil {
				return err
			}
			return printReplies(ctx, cmd.OutOrStdout(), ch)
		},
	}
}

func newMethodsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the methods of a service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.load()
			if err != nil {
				return err
			}
			defer svc.Close()
			api := svc.API()
			for _, name := range svc.Methods() {
				m, _ := api.Lookup(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", m.ID, name)
			}
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	var (
		dir       string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write example service and api files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files := []struct{ name, kind string }{
				{"svc.toml", "service"},
				{"calc.api.toml", "api"},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if err := config.WriteTemplate(path, f.kind, overwrite); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")
	return cmd
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}

// parseArgs reads each argument as a YAML scalar or flow value, so 42 is an
// integer, true a bool, and [1, 2] a list.
func parseArgs(raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for i, item := range raw {
		var v any
		if err := yaml.Unmarshal([]byte(item), &v); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func printReplies(ctx context.Context, out io.Writer, ch *session.Channel) error {
	for {
		msg, err := ch.Get(ctx)
		if errors.Is(err, session.ErrChannelClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		var payload any
		if len(msg.Payload) > 0 {
			if err := msg.Decode(&payload); err != nil {
				return fmt.Errorf("decode %s payload: %w", msg.Name, err)
			}
		}
		text, err := formatPayload(payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", msg.Name, text)
	}
}

// formatPayload renders v as single-line YAML flow.
func formatPayload(v any) (string, error) {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return "", err
	}
	flow(&node)
	text, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(text)), nil
}

func flow(n *yaml.Node) {
	if n.Kind == yaml.SequenceNode || n.Kind == yaml.MappingNode {
		n.Style |= yaml.FlowStyle
	}
	for _, child := range n.Content {
		flow(child)
	}
}

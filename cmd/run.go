// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/observability"
	"github.com/webpilot-ai/webpilot/internal/observe"
	"github.com/webpilot-ai/webpilot/internal/oracle"
	"github.com/webpilot-ai/webpilot/internal/protocol"
	"github.com/webpilot-ai/webpilot/internal/sessiontree"
)

var runStartURL string

var runCmd = &cobra.Command{
	Use:   "run \"<goal>\"",
	Short: "Launch a browser and pursue a natural-language goal.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			return err
		}
		return runGoal(cmd.Context(), cfg, args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runStartURL, "url", "about:blank", "URL to open before the first step")
	rootCmd.AddCommand(runCmd)
}

func runGoal(parent context.Context, cfg *config.Config, goal string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := protocol.NewCDPTransport(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := transport.Close(closeCtx); err != nil {
			logger.Warn("Browser shutdown reported an error.", zap.Error(err))
		}
	}()

	if _, err := transport.OpenTab(ctx, runStartURL); err != nil {
		return fmt.Errorf("open start page: %w", err)
	}

	observer := observe.New(transport, logger)
	tree := sessiontree.New(transport, transport, observer, sessiontree.Options{
		Protocol: protocol.Options{
			NavigationSettle:  cfg.Agent.NavigationSettle,
			ViewportCenterX:   float64(cfg.Browser.ViewportWidth) / 2,
			ViewportCenterY:   float64(cfg.Browser.ViewportHeight) / 2,
			SelectAllModifier: cfg.Agent.ResolveSelectAllModifier(),
		},
		MarkerClearTimeout: cfg.Agent.MarkerClearTimeout,
	}, logger)

	if err := tree.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session tree: %w", err)
	}
	defer tree.Shutdown(context.Background())
	go tree.Run(ctx)

	decider, err := oracle.NewGeminiOracle(ctx, cfg.Oracle, logger)
	if err != nil {
		return err
	}

	loop := agent.NewLoop(tree, decider, cfg.Agent, logger)
	result := loop.Run(ctx, goal)

	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))

	if !result.Success {
		return fmt.Errorf("run %s: %s", result.Status, result.Error)
	}
	return nil
}

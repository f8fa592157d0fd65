package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Anko59/AutoHubble/internal/agent"
	"github.com/Anko59/AutoHubble/internal/rpc"
)

// NewGenerateCmd runs a generation session in-process.
func NewGenerateCmd(opts *Options) *cobra.Command {
	var fields map[string]string
	var baseURL string
	var maxAttempts int
	var runAfter bool

	cmd := &cobra.Command{
		Use:   "generate <start-url>",
		Short: "Analyze a website and generate a tested Scrapy spider for it",
		Example: `  autohubble generate https://books.toscrape.com \
    --field title="Book title" --field price="Price with currency"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(fields) == 0 {
				return errors.New("at least one --field name=description is required")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx, stop := signalContext(cmd)
			defer stop()

			deps, err := agent.BuildDeps(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			limits := agent.LimitsFromConfig(cfg)
			if maxAttempts > 0 {
				limits.MaxAttempts = maxAttempts
			}

			out := cmd.OutOrStdout()
			sessionOpts := []agent.SessionOption{
				agent.WithLimits(limits),
				agent.WithObserver(func(ev agent.Event) {
					_ = renderEvent(out, rpc.FromAgentEvent(ev, ""))
				}),
			}
			if strings.TrimSpace(baseURL) != "" {
				sessionOpts = append(sessionOpts, agent.WithBaseURL(baseURL))
			}
			session := agent.NewSession(deps, args[0], fields, sessionOpts...)

			report, err := session.Generate(ctx)
			if err != nil {
				return err
			}
			if !report.Success {
				return fmt.Errorf("spider generation failed after %d attempts", report.Attempts)
			}
			if !runAfter {
				return nil
			}

			res := session.Run(ctx)
			if res.Err != nil {
				return res.Err
			}
			if !res.OK() {
				return fmt.Errorf("spider exited with code %d, logs in %s", res.Result.ExitCode, res.LogsDir)
			}
			fmt.Fprintf(out, "[run] items=%d file=%s logs=%s\n", res.Result.Items, res.Result.ItemsFile, res.LogsDir)
			return nil
		},
	}

	cmd.Flags().StringToStringVarP(&fields, "field", "f", nil, "Target field as name=description (repeatable)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Site base URL (default: origin of the start URL)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Override generator.max_attempts")
	cmd.Flags().BoolVar(&runAfter, "run", false, "Run the spider once after a successful generation")
	return cmd
}

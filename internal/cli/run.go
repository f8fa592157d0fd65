package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Anko59/AutoHubble/internal/agent"
	"github.com/Anko59/AutoHubble/internal/rpc"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/scrape"
	"github.com/Anko59/AutoHubble/internal/workspace"
)

// NewRunCmd executes an already generated spider without a time limit.
func NewRunCmd(opts *Options) *cobra.Command {
	var projectDir string
	var entryPoint string

	cmd := &cobra.Command{
		Use:   "run [site-url]",
		Short: "Run a generated spider and write its items",
		Long: "Run a spider generated earlier. The project is located from the site URL the same way " +
			"generate names it, or given explicitly with --project and --entry.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			var site string
			if len(args) == 1 {
				site = args[0]
			}
			dir, entry, err := locateProject(workspace.NewManager(cfg.Workspace, nil), site, projectDir, entryPoint)
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

			out := cmd.OutOrStdout()
			deps := agent.Deps{
				Workspace: workspace.NewManager(cfg.Workspace, logger),
				Runner:    runner.New(cfg.Runner, runner.WithLogger(logger)),
				Logger:    logger,
			}
			session := agent.NewSession(deps, site, nil,
				agent.WithProject(dir, entry),
				agent.WithObserver(func(ev agent.Event) {
					_ = renderEvent(out, rpc.FromAgentEvent(ev, ""))
				}),
			)

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

	cmd.Flags().StringVar(&projectDir, "project", "", "Generated project directory")
	cmd.Flags().StringVar(&entryPoint, "entry", "", "Spider file relative to the project directory")
	return cmd
}

// locateProject resolves the project directory and spider entry point from
// a site URL or from explicit flags. Flags win over the URL.
func locateProject(ws *workspace.Manager, site, dir, entry string) (string, string, error) {
	site = strings.TrimSpace(site)
	if site == "" && dir == "" {
		return "", "", errors.New("a site url or --project is required")
	}

	var name string
	if site != "" {
		origin, err := scrape.Origin(site)
		if err != nil {
			return "", "", err
		}
		name, err = scrape.SpiderName(origin)
		if err != nil {
			return "", "", err
		}
		if dir == "" {
			dir = ws.ProjectDir(name)
		}
	}
	if entry == "" {
		if name == "" {
			return "", "", errors.New("--entry is required with --project")
		}
		entry = workspace.EntryPoint(dir, name)
	}
	return dir, entry, nil
}

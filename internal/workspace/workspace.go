// Package workspace scaffolds generated Scrapy projects and applies the
// generator's file operations to them.
package workspace

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/scrape"
	"github.com/Anko59/AutoHubble/internal/tools"
)

//go:embed all:template
var templateFS embed.FS

const (
	templateRoot    = "template"
	templatePackage = "base_spider"
	templateClass   = "BasespiderSpider"
	templateSpider  = "spider.py"
	zyteKeyEnv      = "ZYTE_API_KEY"
	zytePlaceholder = `ZYTE_API_KEY = "YOUR_ZYTE_API_KEY"`
)

// ProjectExtensions are the file types fed back to the models.
var ProjectExtensions = []string{".py", ".cfg"}

// Manager owns the on-disk layout of generated projects.
type Manager struct {
	outputDir string
	logsDir   string
	logger    *zap.Logger
}

// NewManager builds a manager rooted at the configured output directory.
func NewManager(cfg config.WorkspaceConfig, logger *zap.Logger) *Manager {
	return &Manager{
		outputDir: cfg.OutputDir,
		logsDir:   cfg.LogsDir,
		logger:    logging.OrNop(logger),
	}
}

// ProjectDir returns the directory a spider named name is generated into.
func (m *Manager) ProjectDir(name string) string {
	return filepath.Join(m.outputDir, name+"_spider")
}

// EntryPoint is the spider file of project dest relative to dest.
func EntryPoint(dest, name string) string {
	return path.Join(filepath.Base(filepath.Clean(dest)), "spiders", name+".py")
}

// SetupProject copies the Scrapy template into dest and renames it for
// spider name. It returns the spider entry file relative to dest.
func (m *Manager) SetupProject(dest, name string) (string, error) {
	if name == "" {
		return "", errors.New("spider name is required")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}
	fsTool, err := tools.NewFilesystem(dest, true)
	if err != nil {
		return "", err
	}
	m.logger.Info("setting up spider project", zap.String("dir", fsTool.Root()), zap.String("spider", name))

	if err := fsTool.CopyFS(templateFS, templateRoot, "."); err != nil {
		return "", fmt.Errorf("copy template: %w", err)
	}

	pkg := filepath.Base(fsTool.Root())
	if pkg != templatePackage {
		if exists, _ := fsTool.Exists(pkg); exists {
			// Re-running over an existing project keeps the generated package.
			if err := removeTree(fsTool, templatePackage); err != nil {
				return "", err
			}
		} else if err := fsTool.Rename(templatePackage, pkg); err != nil {
			return "", fmt.Errorf("rename package: %w", err)
		}
	}

	settings := path.Join(pkg, "settings.py")
	if err := rewrite(fsTool, settings, strings.NewReplacer(
		`SPIDER_MODULES = ["base_spider.spiders"]`, fmt.Sprintf(`SPIDER_MODULES = ["%s.spiders"]`, pkg),
		`NEWSPIDER_MODULE = "base_spider.spiders"`, fmt.Sprintf(`NEWSPIDER_MODULE = "%s.spiders"`, pkg),
		`BOT_NAME = "base_spider"`, fmt.Sprintf(`BOT_NAME = "%s"`, name),
		zytePlaceholder, fmt.Sprintf(`ZYTE_API_KEY = "%s"`, os.Getenv(zyteKeyEnv)),
	)); err != nil {
		return "", err
	}

	if err := rewrite(fsTool, "scrapy.cfg", strings.NewReplacer(templatePackage, pkg)); err != nil {
		return "", err
	}

	entry := EntryPoint(fsTool.Root(), name)
	template := path.Join(pkg, "spiders", templateSpider)
	if exists, _ := fsTool.Exists(template); exists {
		if err := fsTool.Rename(template, entry); err != nil {
			return "", fmt.Errorf("rename spider file: %w", err)
		}
	}
	if err := rewrite(fsTool, entry, strings.NewReplacer(
		templateClass, className(name),
		`name = "base_spider"`, fmt.Sprintf(`name = "%s"`, name),
	)); err != nil {
		return "", err
	}

	return entry, nil
}

// ApplyFileOperation performs op inside dest. Failures are reported in the
// feedback, never returned.
func (m *Manager) ApplyFileOperation(dest string, op scrape.FileAction) scrape.ActionFeedback {
	fsTool, err := tools.NewFilesystem(dest, true)
	if err != nil {
		return m.failed("Cannot open project %s: %v", dest, err)
	}
	file := op.File
	exists, err := fsTool.Exists(file)
	if err != nil {
		return m.failed("Invalid path %s: %v", file, err)
	}

	switch op.ActionType {
	case scrape.ActionCreate:
		if exists {
			return m.failed("File %s already exists. Skipping.", file)
		}
		if err := fsTool.WriteFile(file, op.Content); err != nil {
			return m.failed("Failed to create %s: %v", file, err)
		}
		return m.succeeded("Created file %s", file)
	case scrape.ActionOverwrite:
		if !exists {
			return m.failed("File %s does not exist. Skipping.", file)
		}
		if err := fsTool.WriteFile(file, op.Content); err != nil {
			return m.failed("Failed to overwrite %s: %v", file, err)
		}
		return m.succeeded("Overwritten file %s", file)
	case scrape.ActionAppend:
		if !exists {
			return m.failed("File %s does not exist. Skipping.", file)
		}
		if err := fsTool.AppendFile(file, op.Content); err != nil {
			return m.failed("Failed to append to %s: %v", file, err)
		}
		return m.succeeded("Appended to file %s", file)
	case scrape.ActionDelete:
		if !exists {
			return m.failed("File %s does not exist. Skipping.", file)
		}
		if err := fsTool.Remove(file); err != nil {
			return m.failed("Failed to delete %s: %v", file, err)
		}
		return m.succeeded("Deleted file %s", file)
	default:
		return m.failed("Unknown action type %s. Skipping.", op.ActionType)
	}
}

// ApplyAction applies every operation of a generator step in order.
func (m *Manager) ApplyAction(dest string, action scrape.GeneratorAction) scrape.ActionMemory {
	mem := scrape.ActionMemory{Action: action, Feedback: make([]scrape.ActionFeedback, 0, len(action.Actions))}
	for _, op := range action.Actions {
		mem.Feedback = append(mem.Feedback, m.ApplyFileOperation(dest, op))
	}
	return mem
}

// ProjectContent returns the project's .py and .cfg files.
func (m *Manager) ProjectContent(dest string) ([]scrape.ProjectFile, error) {
	fsTool, err := tools.NewFilesystem(dest, false)
	if err != nil {
		return nil, err
	}
	files, err := fsTool.Collect(".", ProjectExtensions...)
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", dest, err)
	}
	out := make([]scrape.ProjectFile, 0, len(files))
	for _, f := range files {
		out = append(out, scrape.ProjectFile{Path: f.Path, Content: f.Content})
	}
	return out, nil
}

// SaveLogs writes a run's output to <logs>/<name>/stdout.log and stderr.log
// and returns the directory.
func (m *Manager) SaveLogs(name, stdout, stderr string) (string, error) {
	if err := os.MkdirAll(m.logsDir, 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}
	fsTool, err := tools.NewFilesystem(m.logsDir, true)
	if err != nil {
		return "", err
	}
	if err := fsTool.WriteFile(path.Join(name, "stdout.log"), stdout); err != nil {
		return "", fmt.Errorf("save stdout: %w", err)
	}
	if err := fsTool.WriteFile(path.Join(name, "stderr.log"), stderr); err != nil {
		return "", fmt.Errorf("save stderr: %w", err)
	}
	dir := filepath.Join(fsTool.Root(), name)
	m.logger.Debug("spider logs saved", zap.String("dir", dir))
	return dir, nil
}

func (m *Manager) succeeded(format string, args ...any) scrape.ActionFeedback {
	msg := fmt.Sprintf(format, args...)
	m.logger.Debug(msg)
	return scrape.ActionFeedback{Success: true, Message: msg}
}

func (m *Manager) failed(format string, args ...any) scrape.ActionFeedback {
	msg := fmt.Sprintf(format, args...)
	m.logger.Warn(msg)
	return scrape.ActionFeedback{Success: false, Message: msg}
}

func rewrite(fsTool *tools.Filesystem, file string, r *strings.Replacer) error {
	content, err := fsTool.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if err := fsTool.WriteFile(file, r.Replace(content)); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

func removeTree(fsTool *tools.Filesystem, dir string) error {
	abs, err := fsTool.Resolve(dir)
	if err != nil {
		return err
	}
	return os.RemoveAll(abs)
}

// className turns "books_toscrape" into "Books_toscrapeSpider".
func className(name string) string {
	if name == "" {
		return "Spider"
	}
	return strings.ToUpper(name[:1]) + strings.ToLower(name[1:]) + "Spider"
}

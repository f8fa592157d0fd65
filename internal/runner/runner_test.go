package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/config"
)

type recorder struct{ outcomes []string }

func (r *recorder) RecordSpiderRun(outcome string) { r.outcomes = append(r.outcomes, outcome) }

// fakeCrawl stands in for `scrapy crawl`: $1 is the spider, $3 the feed path.
const fakeCrawl = `echo "crawling $1"
printf '{"title":"a"}\n{"title":"b"}\n\n' > "$3"
echo "[scrapy.statscollectors] INFO: Dumping Scrapy stats:" >&2
echo "{'item_scraped_count': 2," >&2
echo " 'finish_reason': 'finished'}" >&2`

func writeProject(t *testing.T, spider string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	entry := "shop_spider/spiders/shop.py"
	path := filepath.Join(dir, filepath.FromSlash(entry))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("class ShopSpider:\n    name = \""+spider+"\"\n"), 0o644))
	return dir, entry
}

func shRunner(script string, rec Recorder) *SpiderRunner {
	return New(config.RunnerConfig{
		Command:   []string{"sh", "-c", script, "crawl"},
		ItemsFile: "items.jsonl",
	}, WithRecorder(rec))
}

func TestRunCountsItemsAndParsesStats(t *testing.T) {
	dir, entry := writeProject(t, "shop")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "items.jsonl"), []byte("stale\nstale\nstale\n"), 0o644))
	rec := &recorder{}

	res, err := shRunner(fakeCrawl, rec).Run(context.Background(), RunSpec{EntryPoint: entry, WorkDir: dir, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "shop", res.Spider)
	require.True(t, res.ExitedCleanly)
	require.False(t, res.TimedOut)
	require.Contains(t, res.Stdout, "crawling shop")
	require.Equal(t, 2, res.Items)
	require.Equal(t, 2, res.Stats.ItemsScraped())
	require.Equal(t, []string{"ok"}, rec.outcomes)
}

func TestRunTimeoutIsSoft(t *testing.T) {
	dir, entry := writeProject(t, "shop")
	rec := &recorder{}

	res, err := shRunner(`echo "started $1"; sleep 5`, rec).Run(context.Background(), RunSpec{EntryPoint: entry, WorkDir: dir, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.False(t, res.ExitedCleanly)
	require.Contains(t, res.Stdout, "started shop")
	require.Zero(t, res.Items)
	require.Equal(t, []string{"timeout"}, rec.outcomes)
}

func TestRunNonZeroExitIsReported(t *testing.T) {
	dir, entry := writeProject(t, "shop")

	res, err := shRunner(`echo "Traceback" >&2; exit 1`, nil).Run(context.Background(), RunSpec{EntryPoint: entry, WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.ExitedCleanly)
	require.Equal(t, 1, res.ExitCode)
	require.Contains(t, res.Stderr, "Traceback")
}

func TestRunMissingCommandFails(t *testing.T) {
	dir, entry := writeProject(t, "shop")
	r := New(config.RunnerConfig{Command: []string{"autohubble-no-such-binary", "crawl"}})

	_, err := r.Run(context.Background(), RunSpec{EntryPoint: entry, WorkDir: dir})
	require.Error(t, err)
}

func TestResolveSpiderName(t *testing.T) {
	dir, entry := writeProject(t, "books")
	name, err := ResolveSpiderName(dir, entry)
	require.NoError(t, err)
	require.Equal(t, "books", name)

	_, err = ResolveSpiderName(dir, "missing.py")
	require.ErrorIs(t, err, ErrNoSpiderName)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.py"), []byte("import scrapy\n"), 0o644))
	_, err = ResolveSpiderName(dir, "empty.py")
	require.ErrorIs(t, err, ErrNoSpiderName)
}

func TestCountItemsMissingFile(t *testing.T) {
	n, err := CountItems(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	require.Zero(t, n)
}

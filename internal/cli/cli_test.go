package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderSync/internal/domain"
	"TenderSync/internal/infrastructure/storage"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"run"}, {"serve"}, {"searches", "list"}, {"searches", "save"}, {"runs"}, {"announcements"}, {"validate"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	require.NotNil(t, runCmd.Flags().Lookup("days"))
	require.NotNil(t, runCmd.Flags().Lookup("search"))
	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
}

func TestGetExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "load config", errors.New("missing"))))
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"TENDERSYNC_CONFIG", "BASE_API_KEY", "HUBSPOT_API_TOKEN", "DATABASE_DSN", "DATABASE_DRIVER", "REDIS_ADDR", "SNAPSHOT_BUCKET", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestValidateCommand(t *testing.T) {
	dir := isolate(t)
	cfgPath := writeConfig(t, dir, "source:\n  apiKey: k\ncrm:\n  token: t\n")

	out, err := execute(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok")

	empty := writeConfig(t, t.TempDir(), "logging:\n  level: warn\n")
	_, err = execute(t, "validate", "--config", empty)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "BASE_API_KEY")
}

func TestSearchesSaveAndList(t *testing.T) {
	dir := isolate(t)
	cfgPath := writeConfig(t, dir, "database:\n  dsn: "+filepath.Join(dir, "state.db")+"\n")
	searchPath := filepath.Join(dir, "search.yaml")
	require.NoError(t, os.WriteFile(searchPath, []byte(`
name: Saúde
filters:
  keywords: [saúde, " "]
  cpvCodes: ["85147000-1"]
  minPrice: 10000
`), 0o600))

	out, err := execute(t, "searches", "save", searchPath, "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `saved "Saúde"`)

	out, err = execute(t, "searches", "list", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Saúde\n", out)

	out, err = execute(t, "runs", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
}

func TestReadSearchFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "ok.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Obras\nfilters:\n  maxPrice: \"250000.50\"\n  locations: [Braga]\n"), 0o600))
	spec, err := readSearchFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Obras", spec.Name)
	require.NotNil(t, spec.Filters.MaxPrice)
	assert.Equal(t, "250000.5", spec.Filters.MaxPrice.String())
	assert.Equal(t, []string{"Braga"}, spec.Filters.Locations)

	nameless := filepath.Join(dir, "nameless.yaml")
	require.NoError(t, os.WriteFile(nameless, []byte("filters:\n  keywords: [x]\n"), 0o600))
	_, err = readSearchFile(nameless)
	assert.Error(t, err)
}

func TestAnnouncementsCommand(t *testing.T) {
	dir := isolate(t)
	dbPath := filepath.Join(dir, "state.db")
	cfgPath := writeConfig(t, dir, "database:\n  dsn: "+dbPath+"\n")

	ctx := context.Background()
	store, err := storage.Open(ctx, storage.DriverSQLite, dbPath)
	require.NoError(t, err)
	day := time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC)
	for _, a := range []domain.Announcement{
		{Number: "10/2025", PublishedOn: day, Title: "Serviços de limpeza", EntityName: "Município de Braga"},
		{Number: "11/2025", PublishedOn: day, Title: "Empreitada"},
	} {
		_, err := store.InsertAnnouncement(ctx, a)
		require.NoError(t, err)
	}
	require.NoError(t, store.RecordDeal(ctx, domain.ProcessingRecord{Number: "10/2025", SearchName: domain.DefaultSearchName, DealID: "D1", RunID: "r"}))
	require.NoError(t, store.Close())

	out, err := execute(t, "announcements", "--day", "2025-03-04", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "NUMBER")
	assert.Regexp(t, `10/2025\s+created\s+D1\s+Município de Braga\s+Serviços de limpeza`, out)
	assert.Regexp(t, `11/2025\s+-\s+`, out)

	_, err = execute(t, "announcements", "--day", "04/03/2025", "-c", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cadence/internal/config"
	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/recurrence"
	"github.com/watzon/cadence/internal/rules"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Cleanup(func() {
		cfgFile = ""
		verbose = false
		previewFile = ""
		previewCount = 10
		previewAfter = ""
		previewICS = false
		previewSummary = ""
		runOnce = false
		runSchedule = ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "cadence.db")
	configPath = writeFile(t, "cadence.yaml", `database:
  path: `+dbPath+`
lock:
  backend: sqlite
logging:
  level: warn
`)
	return configPath, dbPath
}

const weeklyRule = `time_zone: America/New_York
params:
  freq: WEEKLY
  dtstart: "2024-03-04 09:30:00"
  byweekday: [0, 2]
  count: 5
`

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version()+"\n", out)
}

func TestPreview(t *testing.T) {
	path := writeFile(t, "rule.yaml", weeklyRule)

	out, err := execute(t, "preview", "--file", path, "--count", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "FREQ=WEEKLY")
	assert.Contains(t, lines[1], "Mon 2024-03-04 09:30 EST")
	assert.Contains(t, lines[1], "2024-03-04T14:30:00Z")
	assert.Contains(t, lines[3], "Mon 2024-03-11 09:30 EDT")
	assert.Contains(t, lines[3], "2024-03-11T13:30:00Z")
}

func TestPreview_ICS(t *testing.T) {
	path := writeFile(t, "rule.yaml", weeklyRule)

	out, err := execute(t, "preview", "--file", path, "--count", "2", "--ics", "--summary", "Standup")
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "SUMMARY:Standup")
	assert.Equal(t, 3, strings.Count(out, "BEGIN:VEVENT"))
}

func TestPreview_Exhausted(t *testing.T) {
	path := writeFile(t, "rule.yaml", weeklyRule)

	out, err := execute(t, "preview", "--file", path, "--after", "2025-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "No upcoming occurrences.")
}

func TestReadRuleFile_Request(t *testing.T) {
	path := writeFile(t, "rule.yaml", `request:
  dtstart: 2024-01-30T00:00:00Z
  byhour: 9
  time_zone: Europe/London
  freq: 1
  interval: 1
  repeat_by: DAY_OF_THE_MONTH_END
  ends: 1
  count: 3
`)

	rule, err := readRuleFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", rule.TimeZone)

	dates, err := rule.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 8, 0, 0, 0, time.UTC),
	}, dates)
}

func TestReadRuleFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "time_zone: UTC\n"},
		{"both", "params: {freq: DAILY, dtstart: 2024-01-01}\nrequest: {freq: 3}\n"},
		{"bad zone", "time_zone: Mars/Olympus\nparams: {freq: DAILY, dtstart: 2024-01-01}\n"},
		{"bad params", "params: {freq: HOURLY, dtstart: 2024-01-01}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readRuleFile(writeFile(t, "rule.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestMigrate(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	out, err := execute(t, "migrate", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
	assert.FileExists(t, dbPath)

	out, err = execute(t, "migrate", "status", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "001_recurrence_rules")
}

func TestRunOnce(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	db, err := database.Open(&config.DatabaseConfig{Path: dbPath, MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)

	spec, err := recurrence.NewSpec(recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	rule := &rules.Rule{Spec: spec, HandlerName: LogHandlerName}
	require.NoError(t, rules.NewStore(db).Create(context.Background(), rule))
	require.NoError(t, db.Close())

	_, err = execute(t, "run", "--once", "--config", configPath)
	require.NoError(t, err)

	db, err = database.Open(&config.DatabaseConfig{Path: dbPath, MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)
	defer db.Close()

	got, err := rules.NewStore(db).Get(context.Background(), rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextOccurrence)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), *got.NextOccurrence)
	assert.NotNil(t, got.TimeLastHandled)
}

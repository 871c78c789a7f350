package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/watzon/cadence/internal/ics"
	"github.com/watzon/cadence/internal/recurrence"
	"github.com/watzon/cadence/internal/rules"
)

var (
	previewFile    string
	previewCount   int
	previewAfter   string
	previewICS     bool
	previewSummary string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the upcoming occurrences of a rule",
	Long: `Show the upcoming occurrences of a rule described in a YAML file.

The file holds either flat rule parameters or a form-style request:

  time_zone: America/New_York
  day_offset: 0
  params:
    freq: WEEKLY
    dtstart: "2024-03-04 09:30:00"
    byweekday: [0, 2]
    count: 10

  # or
  request:
    dtstart: 2024-03-04T00:00:00Z
    byhour: 9
    byminute: 30
    time_zone: America/New_York
    freq: 1
    interval: 1
    repeat_by: DAY_OF_THE_MONTH_END

Use --ics to print an iCalendar document instead of a list.`,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "Rule file (YAML, '-' for stdin)")
	previewCmd.Flags().IntVarP(&previewCount, "count", "n", 10, "Number of occurrences to show")
	previewCmd.Flags().StringVar(&previewAfter, "after", "", "Only show occurrences after this UTC date")
	previewCmd.Flags().BoolVar(&previewICS, "ics", false, "Print an iCalendar document")
	previewCmd.Flags().StringVar(&previewSummary, "summary", "", "SUMMARY for iCalendar events")
	_ = previewCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(previewCmd)
}

// ruleFile is the YAML shape accepted by "cadence preview".
type ruleFile struct {
	TimeZone    string              `yaml:"time_zone"`
	DayOffset   int                 `yaml:"day_offset"`
	HandlerName string              `yaml:"handler_name"`
	Params      map[string]any      `yaml:"params"`
	Exclusion   map[string]any      `yaml:"exclusion"`
	Request     *recurrence.Request `yaml:"request"`
}

func (f ruleFile) rule() (*rules.Rule, error) {
	r := &rules.Rule{
		TimeZone:    f.TimeZone,
		DayOffset:   f.DayOffset,
		HandlerName: f.HandlerName,
	}

	switch {
	case f.Request != nil && f.Params != nil:
		return nil, errors.New("rule file must contain either params or request, not both")
	case f.Request != nil:
		spec, err := f.Request.Build()
		if err != nil {
			return nil, err
		}
		r.Spec = spec
		if r.TimeZone == "" {
			r.TimeZone = f.Request.TimeZone
		}
	case f.Params != nil:
		spec, err := recurrence.ParseParams(f.Params)
		if err != nil {
			return nil, err
		}
		r.Spec = spec
	default:
		return nil, errors.New("rule file must contain params or request")
	}

	if f.Exclusion != nil {
		exclusion, err := recurrence.ParseParams(f.Exclusion)
		if err != nil {
			return nil, fmt.Errorf("exclusion: %w", err)
		}
		r.Exclusion = &exclusion
	}

	if r.TimeZone == "" {
		r.TimeZone = "UTC"
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func readRuleFile(path string) (*rules.Rule, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	return f.rule()
}

func runPreview(cmd *cobra.Command, args []string) error {
	rule, err := readRuleFile(previewFile)
	if err != nil {
		return err
	}

	var after *time.Time
	if previewAfter != "" {
		t, err := recurrence.ParseDate(previewAfter)
		if err != nil {
			return fmt.Errorf("--after: %w", err)
		}
		after = &t
	}

	out := cmd.OutOrStdout()
	if previewICS {
		return ics.Write(out, rule, ics.Options{Count: previewCount, After: after, Summary: previewSummary})
	}
	return printPreview(out, rule, previewCount, after)
}

func printPreview(w io.Writer, rule *rules.Rule, count int, after *time.Time) error {
	dates, err := rule.PreviewDates(count, after)
	if err != nil {
		return err
	}
	loc, err := rule.Location()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "RRULE:%s (%s)\n", rule.Spec.String(), rule.TimeZone)
	if len(dates) == 0 {
		fmt.Fprintln(w, "No upcoming occurrences.")
		return nil
	}
	for i, d := range dates {
		fmt.Fprintf(w, "  %2d. %s  %s\n", i+1,
			d.In(loc).Format("Mon 2006-01-02 15:04 MST"),
			d.UTC().Format(time.RFC3339))
	}
	return nil
}

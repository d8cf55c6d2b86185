package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseHumanDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"7 days", 7 * 24 * time.Hour, false},
		{"1 day", 24 * time.Hour, false},
		{"2 weeks", 14 * 24 * time.Hour, false},
		{"6 months", 180 * 24 * time.Hour, false},
		{"1 year", 365 * 24 * time.Hour, false},
		{"12 hours", 12 * time.Hour, false},
		{"  3 Days  ", 3 * 24 * time.Hour, false},
		{"7", 0, true},
		{"seven days", 0, true},
		{"7 fortnights", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseHumanDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHumanDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseHumanDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func objectsAgedDays(now time.Time, days ...int) []ObjectInfo {
	objs := make([]ObjectInfo, len(days))
	for i, d := range days {
		objs[i] = ObjectInfo{
			Key:          fmt.Sprintf("prod/dump_mydb_%02d.tar.gz", i),
			LastModified: now.AddDate(0, 0, -d),
		}
	}
	return objs
}

func TestSelectObjectsForOverwrite(t *testing.T) {
	now := time.Now()
	objs := objectsAgedDays(now, 1, 5, 3, 2, 4)

	t.Run("keeps most recent", func(t *testing.T) {
		doomed := SelectObjectsForOverwrite(objs, 2)
		if len(doomed) != 3 {
			t.Fatalf("selected %d objects, want 3", len(doomed))
		}
		for _, o := range doomed {
			age := now.Sub(o.LastModified)
			if age < 2*24*time.Hour {
				t.Errorf("object %s is among the 2 most recent but was selected", o.Key)
			}
		}
	})

	t.Run("remainder zero selects all", func(t *testing.T) {
		if got := len(SelectObjectsForOverwrite(objs, 0)); got != len(objs) {
			t.Errorf("selected %d objects, want %d", got, len(objs))
		}
	})

	t.Run("remainder at count selects none", func(t *testing.T) {
		if got := len(SelectObjectsForOverwrite(objs, len(objs))); got != 0 {
			t.Errorf("selected %d objects, want 0", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := len(SelectObjectsForOverwrite(nil, 3)); got != 0 {
			t.Errorf("selected %d objects, want 0", got)
		}
	})
}

func TestSelectObjectsForRetention(t *testing.T) {
	now := time.Now()
	objs := objectsAgedDays(now, 1, 10, 40)

	t.Run("delete rule", func(t *testing.T) {
		rules := map[string]RetentionRuleset{
			"expire": {OlderThan: "30 days", Action: "delete"},
		}
		doomed := SelectObjectsForRetention(objs, rules, now)
		if len(doomed) != 1 {
			t.Fatalf("selected %d objects, want 1", len(doomed))
		}
	})

	t.Run("keep rule shields delete rule", func(t *testing.T) {
		rules := map[string]RetentionRuleset{
			"expire": {OlderThan: "7 days", Action: "delete"},
			"shield": {OlderThan: "30 days", Action: "keep"},
		}
		doomed := SelectObjectsForRetention(objs, rules, now)
		if len(doomed) != 1 {
			t.Fatalf("selected %d objects, want only the 10-day-old one, got %d", len(doomed), len(doomed))
		}
		if age := now.Sub(doomed[0].LastModified); age > 30*24*time.Hour {
			t.Errorf("a kept object was selected for deletion")
		}
	})

	t.Run("no rules match", func(t *testing.T) {
		rules := map[string]RetentionRuleset{
			"expire": {OlderThan: "1 year", Action: "delete"},
		}
		if doomed := SelectObjectsForRetention(objs, rules, now); len(doomed) != 0 {
			t.Errorf("selected %d objects, want 0", len(doomed))
		}
	})
}

func TestEvaluateExclusion(t *testing.T) {
	sunday := time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)
	jan31 := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	jan15 := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		t       time.Time
		exclude string
		want    bool
	}{
		{"sunday matches", sunday, "Sunday", true},
		{"sunday no match", jan15, "Sunday", false},
		{"last day of month", jan31, "last day of month", true},
		{"not last day", jan15, "last day of month", false},
		{"day of month", jan15, "day 15", true},
		{"empty", sunday, "", false},
		{"unknown pattern", sunday, "blue moon", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateExclusion(tt.t, tt.exclude); got != tt.want {
				t.Errorf("EvaluateExclusion(%v, %q) = %v, want %v", tt.t, tt.exclude, got, tt.want)
			}
		})
	}
}

func TestLoadRetentionPolicyFromFile(t *testing.T) {
	t.Run("valid policy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		content := `rulesets:
  weekly:
    older_than: "7 days"
    exclude: "Sunday"
    action: delete
  archive:
    older_than: "1 year"
    action: keep
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		rulesets, err := LoadRetentionPolicyFromFile(path)
		if err != nil {
			t.Fatalf("LoadRetentionPolicyFromFile: %v", err)
		}
		if len(rulesets) != 2 {
			t.Fatalf("loaded %d rulesets, want 2", len(rulesets))
		}
		if rulesets["weekly"].Exclude != "Sunday" {
			t.Errorf("weekly.Exclude = %q", rulesets["weekly"].Exclude)
		}
	})

	t.Run("invalid action", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		content := "rulesets:\n  bad:\n    older_than: \"7 days\"\n    action: shred\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRetentionPolicyFromFile(path); err == nil {
			t.Fatal("expected error for unknown action")
		}
	})

	t.Run("invalid older_than", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		content := "rulesets:\n  bad:\n    older_than: soon\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRetentionPolicyFromFile(path); err == nil {
			t.Fatal("expected error for unparseable older_than")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadRetentionPolicyFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
}

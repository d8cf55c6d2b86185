package backup

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RetentionRuleset defines a single retention policy rule.
type RetentionRuleset struct {
	// OlderThan specifies the age threshold (e.g., "7 days", "6 months", "1 year")
	OlderThan string `yaml:"older_than"`

	// Exclude specifies days to exclude from this rule (e.g., "Sunday", "every 7 days", "last day of month")
	Exclude string `yaml:"exclude,omitempty"`

	// Action specifies what to do with matching backups: "delete" or "keep"
	Action string `yaml:"action,omitempty"`
}

// LoadRetentionPolicyFromFile loads retention rulesets from a YAML file.
func LoadRetentionPolicyFromFile(path string) (map[string]RetentionRuleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read retention policy file: %w", err)
	}

	var policy struct {
		Rulesets map[string]RetentionRuleset `yaml:"rulesets"`
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse retention policy YAML: %w", err)
	}

	if err := ValidateRetentionRulesets(policy.Rulesets); err != nil {
		return nil, fmt.Errorf("invalid retention policy: %w", err)
	}
	return policy.Rulesets, nil
}

// ValidateRetentionRulesets checks every ruleset for a parseable threshold
// and a known action.
func ValidateRetentionRulesets(rulesets map[string]RetentionRuleset) error {
	if len(rulesets) == 0 {
		return fmt.Errorf("no rulesets defined")
	}
	for name, ruleset := range rulesets {
		if ruleset.OlderThan == "" {
			return fmt.Errorf("ruleset '%s': older_than is required", name)
		}
		if _, err := ParseHumanDuration(ruleset.OlderThan); err != nil {
			return fmt.Errorf("ruleset '%s': invalid older_than value: %w", name, err)
		}
		if ruleset.Action != "" && ruleset.Action != "delete" && ruleset.Action != "keep" {
			return fmt.Errorf("ruleset '%s': invalid action '%s' (must be 'delete' or 'keep')", name, ruleset.Action)
		}
	}
	return nil
}

// ParseHumanDuration parses human-readable duration strings like "7 days",
// "6 months", "1 year".
func ParseHumanDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid duration format: expected 'number unit' (e.g., '7 days')")
	}

	value, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number in duration: %w", err)
	}

	switch parts[1] {
	case "hour", "hours":
		return time.Duration(value) * time.Hour, nil
	case "day", "days":
		return time.Duration(value) * 24 * time.Hour, nil
	case "week", "weeks":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case "month", "months":
		// Approximate: 30 days per month
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case "year", "years":
		// Approximate: 365 days per year
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported time unit: %s (supported: hours, days, weeks, months, years)", parts[1])
	}
}

// EvaluateExclusion checks if a given time is excluded from a rule.
// Supports patterns like "Sunday", "every 7 days", "last day of month",
// "day 15".
func EvaluateExclusion(t time.Time, exclude string) bool {
	if exclude == "" {
		return false
	}

	exclude = strings.TrimSpace(strings.ToLower(exclude))

	weekdays := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	if weekday, ok := weekdays[exclude]; ok {
		return t.Weekday() == weekday
	}

	if strings.HasPrefix(exclude, "every ") && strings.HasSuffix(exclude, " days") {
		numStr := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(exclude, "every "), " days"))
		if num, err := strconv.Atoi(numStr); err == nil && num > 0 {
			daysSinceEpoch := int(t.Unix() / (24 * 3600))
			return daysSinceEpoch%num == 0
		}
	}

	if exclude == "last day of month" || exclude == "last day of the month" {
		return t.AddDate(0, 0, 1).Month() != t.Month()
	}

	if strings.HasPrefix(exclude, "day ") {
		if day, err := strconv.Atoi(strings.TrimPrefix(exclude, "day ")); err == nil {
			return t.Day() == day
		}
	}

	return false
}

// SelectObjectsForOverwrite returns all objects except the remainder most
// recent ones. With remainder 0 every object is selected; with remainder at
// or above the object count nothing is.
func SelectObjectsForOverwrite(objs []ObjectInfo, remainder int) []ObjectInfo {
	if len(objs) <= remainder {
		return []ObjectInfo{}
	}

	sorted := make([]ObjectInfo, len(objs))
	copy(sorted, objs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastModified.After(sorted[j].LastModified)
	})

	return sorted[remainder:]
}

// SelectObjectsForRetention returns the objects matched by a "delete"
// ruleset at time now. "keep" rules shield their matches from deletion even
// when another rule would delete them.
func SelectObjectsForRetention(objs []ObjectInfo, rulesets map[string]RetentionRuleset, now time.Time) []ObjectInfo {
	var doomed []ObjectInfo
	for _, obj := range objs {
		age := now.Sub(obj.LastModified)

		kept := false
		deleted := false
		for _, rule := range rulesets {
			threshold, err := ParseHumanDuration(rule.OlderThan)
			if err != nil {
				continue
			}
			if age < threshold || EvaluateExclusion(obj.LastModified, rule.Exclude) {
				continue
			}
			switch rule.Action {
			case "keep":
				kept = true
			default:
				deleted = true
			}
		}
		if deleted && !kept {
			doomed = append(doomed, obj)
		}
	}
	return doomed
}

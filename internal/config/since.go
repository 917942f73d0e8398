package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseSince resolves a --since value relative to now. It accepts RFC 3339
// timestamps, dates (2006-01-02), Go durations ("72h"), day counts ("7d")
// and natural language ("2 days ago", "last week"). An empty value returns
// nil, which means no lower bound.
func ParseSince(value string, now time.Time) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, now.Location()); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		t := now.Add(-d)
		return &t, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			t := now.AddDate(0, 0, -n)
			return &t, nil
		}
	}

	result, err := sinceParser.Parse(value, now)
	if err != nil {
		return nil, fmt.Errorf("failed to parse since %q: %w", value, err)
	}
	if result == nil {
		return nil, fmt.Errorf("unrecognized since %q: want RFC 3339, a date, a duration or a phrase like \"2 days ago\"", value)
	}
	t := result.Time
	if t.After(now) {
		return nil, fmt.Errorf("since %q resolves to the future (%s)", value, t.Format(time.RFC3339))
	}
	return &t, nil
}

// SinceTime parses the configured sync.since relative to now.
func (c *Config) SinceTime(now time.Time) (*time.Time, error) {
	return ParseSince(c.Sync.Since, now)
}

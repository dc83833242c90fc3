package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"beastbot/pkg/bonus"
	"beastbot/pkg/protocol"

	"gopkg.in/yaml.v3"
)

// BonusFile holds the weekly bonus schedule.
const BonusFile = protocol.BonusConfigFile

// Bonus is a loaded bonus schedule.
type Bonus struct {
	Windows   []bonus.Window
	Tolerance time.Duration
	Weights   map[bonus.Category]int
	// Defaulted is true when no bonus.yaml existed.
	Defaulted bool
}

// bonusDoc is the raw file. Schedule values are a string or a list of
// strings, so they stay as nodes until classified.
type bonusDoc struct {
	Tolerance string                          `yaml:"tolerance"`
	Weights   map[string]int                  `yaml:"weights"`
	Schedule  map[string]map[string]yaml.Node `yaml:"schedule"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// DefaultBonus is used when bonus.yaml is absent.
func DefaultBonus() *Bonus {
	return &Bonus{
		Windows:   bonus.DefaultWindows(),
		Tolerance: bonus.DefaultTolerance,
		Weights:   bonus.DefaultWeights(),
		Defaulted: true,
	}
}

// LoadBonus reads bonus.yaml. A missing file gives DefaultBonus. A file
// that is not YAML is a ConfigError; individual bad entries are skipped
// with a warning.
func LoadBonus(path string, logger *slog.Logger) (*Bonus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is the configured bonus file
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no bonus schedule file, using built-in schedule", "path", path)
		return DefaultBonus(), nil
	}
	if err != nil {
		return nil, &protocol.ConfigError{File: path, Err: err}
	}
	return ParseBonus(path, data, logger)
}

// ParseBonus parses bonus.yaml content. name is used in errors only.
func ParseBonus(name string, data []byte, logger *slog.Logger) (*Bonus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var doc bonusDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &protocol.ConfigError{File: name, Err: err}
	}

	b := &Bonus{Tolerance: bonus.DefaultTolerance, Weights: bonus.DefaultWeights()}
	if doc.Tolerance != "" {
		d, err := time.ParseDuration(doc.Tolerance)
		if err != nil || d < 0 {
			logger.Warn("ignoring bad bonus tolerance", "value", doc.Tolerance)
		} else {
			b.Tolerance = d
		}
	}
	for key, w := range doc.Weights {
		c, ok := bonus.ParseCategory(key)
		if !ok {
			logger.Warn("ignoring weight for unknown bonus category", "category", key)
			continue
		}
		b.Weights[c] = w
	}
	if len(doc.Schedule) == 0 {
		logger.Warn("bonus file has no schedule, no bonus windows will apply", "file", name)
	}

	for day, slots := range doc.Schedule {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			logger.Warn("skipping bonus day", "day", day, "error", "unknown weekday")
			continue
		}
		for clock, node := range slots {
			hour, minute, err := parseClock(clock)
			if err != nil {
				logger.Warn("skipping bonus entry", "day", day, "time", clock, "error", err)
				continue
			}
			texts, err := nodeTexts(&node)
			if err != nil {
				logger.Warn("skipping bonus entry", "day", day, "time", clock, "error", err)
				continue
			}
			for _, text := range texts {
				c, ok := bonus.Classify(text)
				if !ok {
					logger.Warn("skipping unclassified bonus entry", "day", day, "time", clock, "text", text)
					continue
				}
				b.Windows = append(b.Windows, bonus.Window{
					Weekday: wd, Hour: hour, Minute: minute, Category: c, Description: text,
				})
			}
		}
	}
	sortWindows(b.Windows)
	return b, nil
}

// parseClock accepts "H:MM" and "HH:MM".
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func nodeTexts(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(n.Value) == "" {
			return nil, errors.New("empty description")
		}
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		var out []string
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: list items must be text", item.Line)
			}
			out = append(out, item.Value)
		}
		if len(out) == 0 {
			return nil, errors.New("empty list")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("line %d: want text or a list of text", n.Line)
	}
}

// sortWindows orders windows by week position so map iteration order in
// the file never shows up in listings.
func sortWindows(ws []bonus.Window) {
	sort.SliceStable(ws, func(i, j int) bool {
		a, b := ws[i], ws[j]
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		if a.Minute != b.Minute {
			return a.Minute < b.Minute
		}
		return a.Description < b.Description
	})
}

// Schedule builds the lookup structure.
func (b *Bonus) Schedule() *bonus.Schedule {
	return bonus.NewSchedule(b.Windows, bonus.WithTolerance(b.Tolerance), bonus.WithWeights(b.Weights))
}

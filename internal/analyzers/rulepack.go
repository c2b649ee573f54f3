package analyzers

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RulePack is the YAML schema for a custom rule set. Loading a pack
// replaces the analyzer's built-in rules entirely.
type RulePack struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one pattern in a rule pack.
type RuleSpec struct {
	Pattern     string  `yaml:"pattern"`
	Probability float64 `yaml:"probability"`
	Detail      string  `yaml:"detail"`
}

// LoadRulePack reads a YAML rule pack and swaps it in as the active rule
// set. The previous rules keep serving requests until the swap, and an
// invalid pack leaves them untouched.
func (a *RuleBasedAnalyzer) LoadRulePack(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("LoadRulePack: %w", err)
	}

	var pack RulePack
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		return fmt.Errorf("LoadRulePack: parse %s: %w", path, err)
	}
	if len(pack.Rules) == 0 {
		return fmt.Errorf("LoadRulePack: %s contains no rules", path)
	}

	compiled := make([]rule, 0, len(pack.Rules))
	for i, spec := range pack.Rules {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return fmt.Errorf("LoadRulePack: rule %d: %w", i, err)
		}
		if spec.Probability < 0 || spec.Probability > 1 {
			return fmt.Errorf("LoadRulePack: rule %d: probability %v outside [0,1]", i, spec.Probability)
		}
		compiled = append(compiled, rule{
			re:          re,
			probability: spec.Probability,
			detail:      spec.Detail,
		})
	}

	a.rules.Store(&compiled)
	return nil
}

// rulePackDebounce coalesces editor save bursts into one reload.
const rulePackDebounce = 200 * time.Millisecond

// WatchRulePack reloads the rule pack whenever the file changes, until the
// returned closer is called. Reload failures are logged and the previous
// rules stay active.
func (a *RuleBasedAnalyzer) WatchRulePack(path string, logger *zap.Logger) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("WatchRulePack: %w", err)
	}

	// Watch the directory, not the file: editors that replace-on-save
	// (rename + create) would otherwise drop the watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close() //nolint:errcheck
		return nil, fmt.Errorf("WatchRulePack: %w", err)
	}

	target := filepath.Clean(path)

	go func() {
		var timer *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(rulePackDebounce, func() {
					if err := a.LoadRulePack(path); err != nil {
						logger.Warn("rule pack reload failed, keeping previous rules",
							zap.String("path", path),
							zap.Error(err),
						)
						return
					}
					logger.Info("rule pack reloaded", zap.String("path", path))
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rule pack watcher error", zap.Error(err))
			}
		}
	}()

	return watcher.Close, nil
}

package authz

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	ErrPolicyLoad = errors.MustNewCode("authz.policy_load_failed")
)

// Rule is one declarative policy statement: grant Action on any
// resource matching ResourceType (and, if set, one of ResourceIDs) to
// any principal holding Role.
type Rule struct {
	Role         string     `yaml:"role"`
	Actions      []Action   `yaml:"actions"`
	ResourceType EntityType `yaml:"resource_type"`
	ResourceIDs  []string   `yaml:"resource_ids,omitempty"` // empty means "any"

	// FrozenProperties lists table-property keys this grant must not
	// touch: a query whose context proposes setting or removing one of
	// them does not match the rule.
	FrozenProperties []string `yaml:"frozen_properties,omitempty"`
}

// policySet is the atomically-swapped in-memory snapshot; a failed
// reload leaves the previous valid set in place.
type policySet struct {
	rules []Rule
}

func (p *policySet) allows(roles []string, q Query) bool {
	for _, rule := range p.rules {
		if rule.ResourceType != q.Resource.Type {
			continue
		}
		if !hasAction(rule.Actions, q.Action) {
			continue
		}
		if !hasRole(roles, rule.Role) {
			continue
		}
		if len(rule.ResourceIDs) > 0 && !hasString(rule.ResourceIDs, q.Resource.ID) {
			continue
		}
		if touchesFrozenProperty(rule.FrozenProperties, q.Context) {
			continue
		}
		return true
	}
	return false
}

func touchesFrozenProperty(frozen []string, proposed map[string]string) bool {
	for _, key := range frozen {
		if _, ok := proposed[key]; ok {
			return true
		}
	}
	return false
}

func hasAction(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func hasString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// PolicyBackend implements the policy-based Authorization Engine
// backend: a declarative rule set loaded from a directory, hot-reloaded
// via fsnotify, swapped in atomically so a bad edit never takes effect
//.
type PolicyBackend struct {
	dir     string
	current atomic.Pointer[policySet]
	log     zerolog.Logger
	watcher *fsnotify.Watcher
}

func NewPolicyBackend(dir string, logger zerolog.Logger) (*PolicyBackend, error) {
	b := &PolicyBackend{dir: dir, log: logger}
	if err := b.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(ErrPolicyLoad, err, "failed to start policy file watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrap(ErrPolicyLoad, err, "failed to watch policy directory").AddContext("dir", dir)
	}
	b.watcher = watcher
	go b.watch()

	return b, nil
}

func (b *PolicyBackend) watch() {
	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := b.reload(); err != nil {
				b.log.Warn().Err(err).Msg("policy reload failed, keeping previous policy set")
			} else {
				b.log.Info().Str("dir", b.dir).Msg("policy set reloaded")
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.log.Warn().Err(err).Msg("policy file watcher error")
		}
	}
}

func (b *PolicyBackend) Close() error {
	if b.watcher != nil {
		return b.watcher.Close()
	}
	return nil
}

func (b *PolicyBackend) reload() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return errors.Wrap(ErrPolicyLoad, err, "failed to read policy directory").AddContext("dir", b.dir)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			return errors.Wrap(ErrPolicyLoad, err, "failed to read policy file").AddContext("file", entry.Name())
		}
		var fileRules []Rule
		if err := yaml.Unmarshal(data, &fileRules); err != nil {
			return errors.Wrap(ErrPolicyLoad, err, "failed to parse policy file").AddContext("file", entry.Name())
		}
		rules = append(rules, fileRules...)
	}

	b.current.Store(&policySet{rules: rules})
	return nil
}

func (b *PolicyBackend) IsAllowedBatch(ctx context.Context, queries []Query) ([]Decision, error) {
	set := b.current.Load()
	decisions := make([]Decision, len(queries))
	for i, q := range queries {
		roles := append([]string{q.Principal.ID}, q.Principal.Roles...)
		if set.allows(roles, q) {
			decisions[i] = Allow
		} else {
			// The policy backend has no ancestor graph, so concealment
			// is uniform: every deny is DenyForbidden.
			decisions[i] = DenyForbidden
		}
	}
	return decisions, nil
}

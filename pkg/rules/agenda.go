package rules

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/pkg/script"
)

var ErrFactNotFound = errors.New("fact not found")

// Rule updates facts when its condition holds. Rules without a group are always eligible,
// grouped rules only while a rule task holds their group active.
type Rule struct {
	Name  string `yaml:"name" json:"name"`
	Group string `yaml:"group,omitempty" json:"group,omitempty"`
	// When is a FEEL expression over the facts
	When string `yaml:"when" json:"when"`
	// Then maps fact names to FEEL expressions over the facts, evaluated when the rule fires
	Then map[string]string `yaml:"then,omitempty" json:"then,omitempty"`
}

// Activation is a rule group entered by one node instance.
type Activation struct {
	Group string `json:"group"`
	Key   int64  `json:"key"`
}

// Agenda is a minimal forward chaining fact store driving rule tasks.
type Agenda struct {
	mu          sync.Mutex
	feel        script.FeelRuntime
	rules       []Rule
	facts       map[string]any
	activations []Activation
	logger      hclog.Logger
}

func NewAgenda(feel script.FeelRuntime, logger hclog.Logger, rules ...Rule) (*Agenda, error) {
	if logger == nil {
		logger = hclog.Default()
	}
	a := &Agenda{
		feel:   feel,
		facts:  map[string]any{},
		logger: logger.Named("agenda"),
	}
	for _, rule := range rules {
		if err := a.AddRule(rule); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agenda) AddRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule without name")
	}
	if rule.When == "" {
		return fmt.Errorf("rule %s has no condition", rule.Name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.ContainsFunc(a.rules, func(r Rule) bool { return r.Name == rule.Name }) {
		return fmt.Errorf("rule %s already defined", rule.Name)
	}
	a.rules = append(a.rules, rule)
	return nil
}

func (a *Agenda) Insert(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.facts[name] = value
}

// Update replaces an existing fact, ErrFactNotFound is returned for unknown facts.
func (a *Agenda) Update(name string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.facts[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFactNotFound, name)
	}
	a.facts[name] = value
	return nil
}

func (a *Agenda) Retract(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.facts, name)
}

func (a *Agenda) Facts() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.facts)
}

func (a *Agenda) ActivateGroup(group string, activationKey int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activations = append(a.activations, Activation{Group: group, Key: activationKey})
	a.logger.Debug("rule group activated", "group", group, "activation", activationKey)
}

func (a *Agenda) DeactivateGroup(activationKey int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activations = slices.DeleteFunc(a.activations, func(act Activation) bool {
		return act.Key == activationKey
	})
}

func (a *Agenda) Activations() []Activation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.activations)
}

// Restore puts back activations captured with Activations.
func (a *Agenda) Restore(activations []Activation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, act := range activations {
		if !slices.Contains(a.activations, act) {
			a.activations = append(a.activations, act)
		}
	}
}

// FireAllRules fires every eligible rule whose condition holds until no rule changes a fact anymore.
// Each rule fires at most once per call. It returns the keys of the activations whose group is satisfied:
// at least one rule of the group fired, or the group has no rules at all. Satisfied activations are removed,
// activations of groups where no rule matched stay active until a later call.
func (a *Agenda) FireAllRules() ([]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	active := map[string]bool{}
	for _, act := range a.activations {
		active[act.Group] = true
	}
	fired := map[string]bool{}
	firedGroups := map[string]bool{}
	for {
		progress := false
		for _, rule := range a.rules {
			if fired[rule.Name] || (rule.Group != "" && !active[rule.Group]) {
				continue
			}
			ok, err := a.feel.UnaryTest(rule.When, a.facts)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate rule %s: %w", rule.Name, err)
			}
			if !ok {
				continue
			}
			if err := a.apply(rule); err != nil {
				return nil, err
			}
			fired[rule.Name] = true
			firedGroups[rule.Group] = true
			progress = true
			a.logger.Debug("rule fired", "rule", rule.Name, "group", rule.Group)
		}
		if !progress {
			break
		}
	}

	var satisfied []int64
	remaining := a.activations[:0]
	for _, act := range a.activations {
		if firedGroups[act.Group] || !a.hasRules(act.Group) {
			satisfied = append(satisfied, act.Key)
			continue
		}
		remaining = append(remaining, act)
	}
	a.activations = remaining
	sort.Slice(satisfied, func(i, j int) bool { return satisfied[i] < satisfied[j] })
	return satisfied, nil
}

func (a *Agenda) apply(rule Rule) error {
	names := slices.Sorted(maps.Keys(rule.Then))
	for _, name := range names {
		value, err := a.feel.Evaluate(rule.Then[name], a.facts)
		if err != nil {
			return fmt.Errorf("failed to evaluate consequence %s of rule %s: %w", name, rule.Name, err)
		}
		a.facts[name] = value
	}
	return nil
}

func (a *Agenda) hasRules(group string) bool {
	return slices.ContainsFunc(a.rules, func(r Rule) bool { return r.Group == group })
}

package rules

import (
	"errors"
	"testing"

	"github.com/pbinitiative/zenflow/pkg/script/feel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgenda(t *testing.T, rules ...Rule) *Agenda {
	agenda, err := NewAgenda(feel.NewFeelRuntime(), nil, rules...)
	require.NoError(t, err)
	return agenda
}

func TestFireAllRulesSatisfiesGroupWithMatchingRule(t *testing.T) {
	// given
	agenda := newTestAgenda(t, Rule{
		Name:  "approve",
		Group: "approval",
		When:  `amount > 100`,
		Then:  map[string]string{"decision": `"approved"`},
	})
	agenda.Insert("amount", 150)
	agenda.ActivateGroup("approval", 7)

	// when
	satisfied, err := agenda.FireAllRules()

	// then
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, satisfied)
	assert.Equal(t, "approved", agenda.Facts()["decision"])
	assert.Empty(t, agenda.Activations())
}

func TestFireAllRulesKeepsGroupWithoutMatchActive(t *testing.T) {
	// given
	agenda := newTestAgenda(t, Rule{Name: "approve", Group: "approval", When: `amount > 100`})
	agenda.Insert("amount", 10)
	agenda.ActivateGroup("approval", 7)

	// when
	satisfied, err := agenda.FireAllRules()

	// then
	require.NoError(t, err)
	assert.Empty(t, satisfied)
	assert.Len(t, agenda.Activations(), 1)

	// a later update lets the rule match
	require.NoError(t, agenda.Update("amount", 500))
	satisfied, err = agenda.FireAllRules()
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, satisfied)
}

func TestFireAllRulesIgnoresInactiveGroups(t *testing.T) {
	agenda := newTestAgenda(t, Rule{Name: "r", Group: "other", When: `true`, Then: map[string]string{"touched": `true`}})

	satisfied, err := agenda.FireAllRules()

	require.NoError(t, err)
	assert.Empty(t, satisfied)
	assert.NotContains(t, agenda.Facts(), "touched")
}

func TestGroupWithoutRulesIsSatisfiedImmediately(t *testing.T) {
	agenda := newTestAgenda(t)
	agenda.ActivateGroup("empty", 1)

	satisfied, err := agenda.FireAllRules()

	require.NoError(t, err)
	assert.Equal(t, []int64{1}, satisfied)
}

func TestUpdateUnknownFact(t *testing.T) {
	agenda := newTestAgenda(t)

	err := agenda.Update("missing", 1)

	assert.True(t, errors.Is(err, ErrFactNotFound))
}

func TestAddRuleRejectsDuplicates(t *testing.T) {
	agenda := newTestAgenda(t, Rule{Name: "r", When: `true`})

	assert.Error(t, agenda.AddRule(Rule{Name: "r", When: `true`}))
	assert.Error(t, agenda.AddRule(Rule{Name: "", When: `true`}))
}

func TestRestoreActivations(t *testing.T) {
	agenda := newTestAgenda(t)
	agenda.Restore([]Activation{{Group: "g", Key: 3}, {Group: "g", Key: 3}})

	assert.Equal(t, []Activation{{Group: "g", Key: 3}}, agenda.Activations())

	agenda.DeactivateGroup(3)
	assert.Empty(t, agenda.Activations())
}

func TestFireAllRulesFiresEachRuleOncePerCall(t *testing.T) {
	// given
	agenda := newTestAgenda(t, Rule{
		Name: "increment",
		When: `counter < 5`,
		Then: map[string]string{"counter": `counter + 1`},
	})
	agenda.Insert("counter", 0)

	// when
	_, err := agenda.FireAllRules()

	// then
	require.NoError(t, err)
	assert.EqualValues(t, 1, agenda.Facts()["counter"])

	// the next call fires the rule again
	_, err = agenda.FireAllRules()
	require.NoError(t, err)
	assert.EqualValues(t, 2, agenda.Facts()["counter"])
}

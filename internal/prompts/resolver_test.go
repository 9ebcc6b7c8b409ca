package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, vars map[string]string) *Resolver {
	t.Helper()
	r, err := NewResolver("", vars, BuiltinScenarios())
	require.NoError(t, err)
	return r
}

func TestResolve_KeywordSelectsScriptInAnyCase(t *testing.T) {
	r := newTestResolver(t, nil)

	for _, room := range []string{"devin", "DEVIN-room", "call-with-Devin", "xxdEvInxx"} {
		script, err := r.Resolve(room)
		require.NoError(t, err, room)
		assert.Equal(t, DevinInstructions, script.Instructions, room)
		assert.Equal(t, DevinGreeting, script.Greeting, room)
		assert.Equal(t, DevinIdentity, script.Identity, room)
	}

	script, err := r.Resolve("newport_voice_assistant_room_1234")
	require.NoError(t, err)
	assert.Equal(t, NewportInstructions, script.Instructions)
	assert.Equal(t, NewportGreeting, script.Greeting)
}

func TestResolve_DefaultTemplateEndToEnd(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"business_name":  "Acme",
		"knowledge_base": "Acme sells widgets.",
	})

	script, err := r.Resolve("acme-demo-room")
	require.NoError(t, err)
	assert.Equal(t, DefaultScenario, script.Name)
	assert.Equal(t, DefaultIdentity, script.Identity)
	assert.Contains(t, script.Instructions, "Acme")
	assert.Contains(t, script.Instructions, "Acme sells widgets.")
	assert.Equal(t, "Thank you for calling Voice Sell AI. How can I help you today?", script.Greeting)
}

func TestResolve_MissingTemplateVariable(t *testing.T) {
	r := newTestResolver(t, map[string]string{"business_name": "Acme", "knowledge_base": ""})

	_, err := r.Resolve("acme-demo-room")
	assert.ErrorIs(t, err, ErrMissingTemplateVariable)

	script, err := r.Resolve("devin-room")
	require.NoError(t, err)
	assert.Equal(t, DevinInstructions, script.Instructions)
}

func TestResolve_CustomTemplateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.template")
	require.NoError(t, os.WriteFile(path, []byte("Agent for {{.business_name}} in {{.city}}."), 0o600))

	r, err := NewResolver(path, map[string]string{"business_name": "Acme", "city": "Austin"}, nil)
	require.NoError(t, err)
	script, err := r.Resolve("devin")
	require.NoError(t, err)
	assert.Equal(t, "Agent for Acme in Austin.", script.Instructions)

	r, err = NewResolver(path, map[string]string{"business_name": "Acme"}, nil)
	require.NoError(t, err)
	_, err = r.Resolve("room")
	assert.ErrorIs(t, err, ErrMissingTemplateVariable)
}

// ABOUTME: Tests for embedded prompt templates
// ABOUTME: Every configured agent must have both a system and a human prompt

package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intake-gateway/internal/config"
)

var allAgents = []string{
	config.AgentIntake,
	config.AgentParser,
	config.AgentDoctor,
	config.AgentReport,
	config.AgentLanguage,
}

func TestEveryAgentHasPrompts(t *testing.T) {
	for _, name := range allAgents {
		t.Run(name, func(t *testing.T) {
			sys, err := System(name)
			require.NoError(t, err)
			assert.NotEmpty(t, sys)

			human, err := Human(name)
			require.NoError(t, err)
			assert.Contains(t, human, "{content}")
		})
	}
}

func TestUnknownAgentErrors(t *testing.T) {
	_, err := System("weather")
	assert.Error(t, err)
	_, err = Human("weather")
	assert.Error(t, err)
}

func TestIntakePromptCarriesContract(t *testing.T) {
	sys, err := System(config.AgentIntake)
	require.NoError(t, err)
	// The turn processor depends on these output keys
	for _, key := range []string{`"answer"`, `"translation"`, `"report_done"`} {
		assert.Contains(t, sys, key)
	}
	for _, placeholder := range []string{"{display_name}", "{age}", "{gender}"} {
		assert.Contains(t, sys, placeholder)
	}
}

func TestReportPromptCarriesPlaceholders(t *testing.T) {
	sys, err := System(config.AgentReport)
	require.NoError(t, err)
	for _, placeholder := range []string{"{display_name}", "{hospital}", "{lang}"} {
		assert.Contains(t, sys, placeholder)
	}
}

func TestLanguagePromptNamesTags(t *testing.T) {
	sys, err := System(config.AgentLanguage)
	require.NoError(t, err)
	for _, tag := range []string{"id-id", "id-jv", "id-su"} {
		assert.True(t, strings.Contains(sys, tag), "missing language tag %s", tag)
	}
}

// ABOUTME: Embedded prompt templates for the agent pipeline
// ABOUTME: System prompts live in templates/; human prompts are one-line wrappers around {content}

// Package prompts carries the system and human prompt templates for every
// agent, embedded at build time. Placeholders use the {name} form rendered
// by the agent package.
package prompts

import (
	"embed"
	"fmt"

	"github.com/2389/intake-gateway/internal/config"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// systemFiles maps agent names to their embedded system prompt.
var systemFiles = map[string]string{
	config.AgentIntake:   "templates/intake_system.tmpl",
	config.AgentParser:   "templates/parser_system.tmpl",
	config.AgentDoctor:   "templates/doctor_system.tmpl",
	config.AgentReport:   "templates/report_system.tmpl",
	config.AgentLanguage: "templates/language_system.tmpl",
}

// humanPrompts wrap the rendered content for each agent. The parser and
// doctor agents re-state the JSON-only requirement at the message level;
// the upstream models honor it more reliably there than in the system
// prompt alone.
var humanPrompts = map[string]string{
	config.AgentIntake:   "\n{content} \n",
	config.AgentParser:   "here is the user message\n{content} you strictly must return a json format only",
	config.AgentDoctor:   "here is the user message\n{content} you strictly must return a json format only",
	config.AgentReport:   "here is the user message\n{content}",
	config.AgentLanguage: "here is the user message\n{content}",
}

// System returns the system prompt template for an agent.
func System(name string) (string, error) {
	file, ok := systemFiles[name]
	if !ok {
		return "", fmt.Errorf("no system prompt for agent %q", name)
	}
	data, err := templateFS.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading system prompt for agent %q: %w", name, err)
	}
	return string(data), nil
}

// Human returns the human prompt template for an agent.
func Human(name string) (string, error) {
	tmpl, ok := humanPrompts[name]
	if !ok {
		return "", fmt.Errorf("no human prompt for agent %q", name)
	}
	return tmpl, nil
}

package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// ErrMissingTemplateVariable is returned when the template references a value that was not supplied.
var ErrMissingTemplateVariable = errors.New("missing template variable")

//go:embed templates/default.tmpl
var defaultTemplate string

// Script is the fixed conversation setup chosen for one call.
type Script struct {
	Name         string
	Identity     string
	Instructions string
	Greeting     string
}

// Scenario is a scripted call selected by a keyword in the room name.
type Scenario struct {
	Keyword string
	Script  Script
}

// BuiltinScenarios returns the scripted calls, in match order.
func BuiltinScenarios() []Scenario {
	return []Scenario{
		{
			Keyword: DevinKeyword,
			Script: Script{
				Name:         DevinKeyword,
				Identity:     DevinIdentity,
				Instructions: DevinInstructions,
				Greeting:     DevinGreeting,
			},
		},
		{
			Keyword: NewportKeyword,
			Script: Script{
				Name:         NewportKeyword,
				Identity:     NewportIdentity,
				Instructions: NewportInstructions,
				Greeting:     NewportGreeting,
			},
		},
	}
}

// Resolver picks the script for a room.
type Resolver struct {
	scenarios []Scenario
	tmpl      *template.Template
	vars      map[string]string
}

// NewResolver parses the default template. An empty templatePath uses the built-in one.
// Variables with empty values are treated as not supplied.
func NewResolver(templatePath string, vars map[string]string, scenarios []Scenario) (*Resolver, error) {
	text := defaultTemplate
	if templatePath != "" {
		raw, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt template: %w", err)
		}
		text = string(raw)
	}

	tmpl, err := template.New("default").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	supplied := make(map[string]string, len(vars))
	for k, v := range vars {
		if strings.TrimSpace(v) != "" {
			supplied[k] = v
		}
	}

	return &Resolver{scenarios: scenarios, tmpl: tmpl, vars: supplied}, nil
}

// Resolve matches the room name case-insensitively against the scenario keywords and
// falls back to the filled default template.
func (r *Resolver) Resolve(roomName string) (Script, error) {
	lower := strings.ToLower(roomName)
	for _, s := range r.scenarios {
		if s.Keyword != "" && strings.Contains(lower, strings.ToLower(s.Keyword)) {
			return s.Script, nil
		}
	}

	var b strings.Builder
	if err := r.tmpl.Execute(&b, r.vars); err != nil {
		if strings.Contains(err.Error(), "no entry for key") {
			return Script{}, fmt.Errorf("%w: %v", ErrMissingTemplateVariable, err)
		}
		return Script{}, fmt.Errorf("failed to render prompt template: %w", err)
	}

	return Script{
		Name:         DefaultScenario,
		Identity:     DefaultIdentity,
		Instructions: strings.TrimSpace(b.String()),
		Greeting:     DefaultGreeting,
	}, nil
}

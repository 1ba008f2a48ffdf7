package service

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Built-in notification templates
const (
	TemplateIdeaSubmitted       = "idea.submitted"
	TemplateIdeaStatusChanged   = "idea.status_changed"
	TemplateAssignmentInvited   = "assignment.invited"
	TemplateAssignmentAccepted  = "assignment.accepted"
	TemplateAssignmentDeclined  = "assignment.declined"
	TemplateAssignmentListed    = "assignment.listed"
	TemplateAssignmentClaimed   = "assignment.claimed"
	TemplateAssignmentEscalated = "assignment.escalated"
	TemplateSLASummary          = "sla.summary"
)

// TemplateSource is the raw subject and body of one template
type TemplateSource struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

var builtinTemplates = map[string]TemplateSource{
	TemplateIdeaSubmitted: {
		Subject: `Idea #{{.IdeaID}} received`,
		Body:    `Thanks for submitting "{{.Title}}". It is now waiting for analyst review.`,
	},
	TemplateIdeaStatusChanged: {
		Subject: `Idea #{{.IdeaID}} is now {{.To}}`,
		Body:    `"{{.Title}}" moved from {{.From}} to {{.To}} ({{.Trigger}}).`,
	},
	TemplateAssignmentInvited: {
		Subject: `Invitation to implement idea #{{.IdeaID}}`,
		Body:    `{{.DeveloperID}} was invited to implement "{{.Title}}". Accept or decline assignment #{{.AssignmentID}}.`,
	},
	TemplateAssignmentAccepted: {
		Subject: `Idea #{{.IdeaID}} accepted by {{.DeveloperID}}`,
		Body:    `{{.DeveloperID}} accepted "{{.Title}}" and implementation has started.`,
	},
	TemplateAssignmentDeclined: {
		Subject: `Idea #{{.IdeaID}} declined by {{.DeveloperID}}`,
		Body:    `{{.DeveloperID}} declined "{{.Title}}". The idea is open for a new invitation or listing.`,
	},
	TemplateAssignmentListed: {
		Subject: `Idea #{{.IdeaID}} listed on the marketplace`,
		Body:    `"{{.Title}}" is open for any developer to claim.`,
	},
	TemplateAssignmentClaimed: {
		Subject: `Idea #{{.IdeaID}} claimed by {{.DeveloperID}}`,
		Body:    `{{.DeveloperID}} claimed "{{.Title}}" from the marketplace and implementation has started.`,
	},
	TemplateAssignmentEscalated: {
		Subject: `{{.Count}} invitation(s) expired without response`,
		Body: `The following invitations passed the developer SLA and were moved to the marketplace:
{{range .Items}}- assignment #{{.AssignmentID}} for idea #{{.IdeaID}} ({{.DeveloperID}})
{{end}}`,
	},
	TemplateSLASummary: {
		Subject: `SLA summary: {{.AnalystOverdue}} analyst, {{.FinanceOverdue}} finance, {{.DeveloperOverdue}} developer overdue`,
		Body:    `Overdue ideas as of {{.GeneratedAt}}: analyst {{.AnalystOverdue}}, finance {{.FinanceOverdue}}, developer {{.DeveloperOverdue}}.`,
	},
}

type compiledTemplate struct {
	subject *template.Template
	body    *template.Template
}

// TemplateRegistry renders notification subjects and bodies by template name
type TemplateRegistry struct {
	templates map[string]compiledTemplate
}

// NewTemplateRegistry compiles the built-in templates, then applies overrides
func NewTemplateRegistry(overrides map[string]TemplateSource) (*TemplateRegistry, error) {
	r := &TemplateRegistry{templates: make(map[string]compiledTemplate)}
	for name, src := range builtinTemplates {
		if err := r.add(name, src); err != nil {
			return nil, err
		}
	}
	for name, src := range overrides {
		if err := r.add(name, src); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadTemplateOverrides reads a YAML document mapping template names to
// subject and body
func LoadTemplateOverrides(r io.Reader) (map[string]TemplateSource, error) {
	overrides := make(map[string]TemplateSource)
	if err := yaml.NewDecoder(r).Decode(&overrides); err != nil {
		if err == io.EOF {
			return overrides, nil
		}
		return nil, fmt.Errorf("decode template overrides: %w", err)
	}
	return overrides, nil
}

func (r *TemplateRegistry) add(name string, src TemplateSource) error {
	subject, err := template.New(name + ".subject").Option("missingkey=zero").Parse(src.Subject)
	if err != nil {
		return fmt.Errorf("parse subject of template %s: %w", name, err)
	}
	body, err := template.New(name + ".body").Option("missingkey=zero").Parse(src.Body)
	if err != nil {
		return fmt.Errorf("parse body of template %s: %w", name, err)
	}
	r.templates[name] = compiledTemplate{subject: subject, body: body}
	return nil
}

// Has reports whether name is a registered template
func (r *TemplateRegistry) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Names returns the registered template names, sorted
func (r *TemplateRegistry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template against data
func (r *TemplateRegistry) Render(name string, data map[string]interface{}) (string, string, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject of %s: %w", name, err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body of %s: %w", name, err)
	}
	return strings.TrimSpace(subject.String()), strings.TrimSpace(body.String()), nil
}

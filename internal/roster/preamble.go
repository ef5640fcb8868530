package roster

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// InitPreamble renders the role/context text sent to a freshly created
// session. A custom init_prompt template receives the Identity; without one
// a fixed preamble is composed from the catalog fields.
func (identity Identity) InitPreamble() (string, error) {
	prompt := strings.TrimSpace(identity.InitPrompt)
	if prompt == "" {
		return identity.defaultPreamble(), nil
	}
	parsed, err := template.New("init").Parse(prompt)
	if err != nil {
		return "", fmt.Errorf("agent %q: parse init_prompt: %w", identity.ID, err)
	}
	rendered := &bytes.Buffer{}
	if err := parsed.Execute(rendered, identity); err != nil {
		return "", fmt.Errorf("agent %q: render init_prompt: %w", identity.ID, err)
	}
	return strings.TrimSpace(rendered.String()), nil
}

func (identity Identity) defaultPreamble() string {
	builder := strings.Builder{}
	fmt.Fprintf(&builder, "You are %s, acting as %s.", identity.ID, identity.Role)
	if len(identity.Responsibilities) > 0 {
		builder.WriteString("\nYour responsibilities, in order:")
		for index, responsibility := range identity.Responsibilities {
			fmt.Fprintf(&builder, "\n%d. %s", index+1, responsibility)
		}
	}
	if len(identity.Expertise) > 0 {
		fmt.Fprintf(&builder, "\nAreas of expertise: %s.", strings.Join(identity.Expertise, ", "))
	}
	builder.WriteString("\nAcknowledge and wait for tasks.")
	return builder.String()
}

package roster

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type rolesFile struct {
	Workflow     workflowSection     `yaml:"workflow"`
	ProjectTypes map[string][]string `yaml:"project_types"`
	Agents       []Identity          `yaml:"agents"`
}

type workflowSection struct {
	Validator   string `yaml:"validator"`
	Coordinator string `yaml:"coordinator"`
}

// Load reads and validates a roles file.
func Load(path string) (*Roster, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return Parse(payload)
}

// Parse builds a Roster from roles-file YAML.
func Parse(payload []byte) (*Roster, error) {
	var file rolesFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("parse roles file: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("roles file defines no agents")
	}

	agents := make(map[string]Identity, len(file.Agents))
	order := make([]string, 0, len(file.Agents))
	for index, identity := range file.Agents {
		identity.ID = strings.TrimSpace(identity.ID)
		identity.Team = strings.TrimSpace(identity.Team)
		if identity.ID == "" {
			return nil, fmt.Errorf("agent %d: id is required", index)
		}
		if strings.TrimSpace(identity.Role) == "" {
			return nil, fmt.Errorf("agent %q: role is required", identity.ID)
		}
		if _, exists := agents[identity.ID]; exists {
			return nil, fmt.Errorf("agent %q: duplicate id", identity.ID)
		}
		agents[identity.ID] = identity
		order = append(order, identity.ID)
	}

	for _, identity := range agents {
		if identity.Team == "" {
			continue
		}
		if _, ok := agents[identity.Team]; !ok {
			return nil, fmt.Errorf("agent %q: team %q is not a registered agent", identity.ID, identity.Team)
		}
	}

	projectTypes := make(map[string][]string, len(file.ProjectTypes))
	for label, managerIDs := range file.ProjectTypes {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("project type with empty label")
		}
		if len(managerIDs) == 0 {
			return nil, fmt.Errorf("project type %q: manager set is empty", label)
		}
		cleaned := make([]string, 0, len(managerIDs))
		for _, managerID := range managerIDs {
			managerID = strings.TrimSpace(managerID)
			if _, ok := agents[managerID]; !ok {
				return nil, fmt.Errorf("project type %q: manager %q is not a registered agent", label, managerID)
			}
			cleaned = append(cleaned, managerID)
		}
		projectTypes[label] = cleaned
	}

	validatorID := strings.TrimSpace(file.Workflow.Validator)
	coordinatorID := strings.TrimSpace(file.Workflow.Coordinator)
	if validatorID != "" {
		if _, ok := agents[validatorID]; !ok {
			return nil, fmt.Errorf("workflow validator %q is not a registered agent", validatorID)
		}
	}
	if coordinatorID != "" {
		if _, ok := agents[coordinatorID]; !ok {
			return nil, fmt.Errorf("workflow coordinator %q is not a registered agent", coordinatorID)
		}
	}

	return &Roster{
		agents:       agents,
		order:        order,
		projectTypes: projectTypes,
		validatorID:  validatorID,
		coordinator:  coordinatorID,
	}, nil
}

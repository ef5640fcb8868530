// Package roster holds the static catalog of agent identities loaded at
// startup. The catalog is read-only after load; everything that needs agent
// metadata receives the Roster rather than reaching for global state.
package roster

import (
	"sort"
	"strings"
)

// Identity is an immutable catalog entry for one agent.
type Identity struct {
	ID               string   `yaml:"id"`
	Role             string   `yaml:"role"`
	Team             string   `yaml:"team,omitempty"`
	Responsibilities []string `yaml:"responsibilities,omitempty"`
	Expertise        []string `yaml:"expertise,omitempty"`
	InitPrompt       string   `yaml:"init_prompt,omitempty"`
}

// Roster is the loaded catalog plus the workflow wiring that names the
// validator and coordinator agents and maps project types to manager sets.
type Roster struct {
	agents       map[string]Identity
	order        []string
	projectTypes map[string][]string
	validatorID  string
	coordinator  string
}

func (r *Roster) Get(agentID string) (Identity, bool) {
	if r == nil {
		return Identity{}, false
	}
	identity, ok := r.agents[strings.TrimSpace(agentID)]
	return identity, ok
}

// List returns identities in roles-file order.
func (r *Roster) List() []Identity {
	if r == nil {
		return nil
	}
	out := make([]Identity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

func (r *Roster) IDs() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Specialists returns the members whose team is the given manager, in
// roles-file order.
func (r *Roster) Specialists(managerID string) []Identity {
	if r == nil {
		return nil
	}
	managerID = strings.TrimSpace(managerID)
	if managerID == "" {
		return nil
	}
	var members []Identity
	for _, id := range r.order {
		identity := r.agents[id]
		if identity.Team == managerID {
			members = append(members, identity)
		}
	}
	return members
}

// Managers returns every agent id that appears in a project-type manager
// set or is named as another agent's team, sorted.
func (r *Roster) Managers() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, managerIDs := range r.projectTypes {
		for _, id := range managerIDs {
			seen[id] = struct{}{}
		}
	}
	for _, identity := range r.agents {
		if identity.Team != "" {
			seen[identity.Team] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ProjectTypes returns a copy of the project-type to manager-set table.
func (r *Roster) ProjectTypes() map[string][]string {
	if r == nil {
		return nil
	}
	out := make(map[string][]string, len(r.projectTypes))
	for label, managerIDs := range r.projectTypes {
		out[label] = append([]string(nil), managerIDs...)
	}
	return out
}

// ManagersFor resolves the manager set for a project-type label. The second
// return is false when the label is not configured; callers must treat that
// as a configuration error, never guess a manager set.
func (r *Roster) ManagersFor(projectType string) ([]string, bool) {
	if r == nil {
		return nil, false
	}
	managerIDs, ok := r.projectTypes[strings.TrimSpace(projectType)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), managerIDs...), true
}

func (r *Roster) ValidatorID() string {
	if r == nil {
		return ""
	}
	return r.validatorID
}

func (r *Roster) CoordinatorID() string {
	if r == nil {
		return ""
	}
	return r.coordinator
}

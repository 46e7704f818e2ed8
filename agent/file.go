package agent

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// fileAgent is the YAML shape of an agent. The call flow is written as a
// mapping instead of an embedded JSON string.
type fileAgent struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Persona       string            `yaml:"persona"`
	KnowledgeBase string            `yaml:"knowledge_base"`
	Greeting      string            `yaml:"greeting"`
	CallFlow      map[string]string `yaml:"call_flow"`
	PhoneNumber   string            `yaml:"phone_number"`
}

type agentsFile struct {
	Agents []fileAgent `yaml:"agents"`
}

// LoadFile reads agents from a YAML file. Environment variables in the file
// are expanded. Every agent must pass Validate and carry an ID.
func LoadFile(path string) ([]Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agents file: %w", err)
	}
	return ParseYAML([]byte(os.ExpandEnv(string(data))))
}

func ParseYAML(data []byte) ([]Agent, error) {
	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing agents file: %w", err)
	}

	agents := make([]Agent, 0, len(f.Agents))
	seen := make(map[string]bool, len(f.Agents))
	for i, fa := range f.Agents {
		if fa.ID == "" {
			return nil, fmt.Errorf("agent %d: id is required", i)
		}
		if seen[fa.ID] {
			return nil, fmt.Errorf("agent %q: duplicate id", fa.ID)
		}
		seen[fa.ID] = true

		a := Agent{
			ID:            fa.ID,
			Name:          fa.Name,
			Persona:       fa.Persona,
			KnowledgeBase: fa.KnowledgeBase,
			Greeting:      fa.Greeting,
			PhoneNumber:   fa.PhoneNumber,
		}
		if len(fa.CallFlow) > 0 {
			flow, err := sonic.MarshalString(fa.CallFlow)
			if err != nil {
				return nil, fmt.Errorf("agent %q: %w", fa.ID, err)
			}
			a.CallFlow = flow
		}
		if err := Validate(a); err != nil {
			return nil, fmt.Errorf("agent %q: %w", fa.ID, err)
		}
		agents = append(agents, a)
	}
	return agents, nil
}

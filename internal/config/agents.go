// ABOUTME: YAML agent-definitions loading for the coven-acp bridge.
// ABOUTME: Maps agent names to working directories with env var expansion.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentDef describes one named agent.
type AgentDef struct {
	// WorkingDirectory is where the agent subprocess runs. Relative paths
	// are resolved by the caller against the bridge's data directory.
	WorkingDirectory string `yaml:"working_directory"`

	// Description is shown in the agent listing.
	Description string `yaml:"description"`
}

// AgentsFile is the parsed agent-definitions document.
type AgentsFile struct {
	Agents map[string]AgentDef `yaml:"agents"`
}

// LoadAgents reads the YAML agent-definitions file. Environment variables in
// the format ${VAR_NAME} are expanded. A missing file yields an empty table,
// not an error: the bridge can run with just the default agent.
func LoadAgents(path string) (*AgentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AgentsFile{Agents: map[string]AgentDef{}}, nil
		}
		return nil, fmt.Errorf("reading agents file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var af AgentsFile
	if err := yaml.Unmarshal([]byte(expanded), &af); err != nil {
		return nil, fmt.Errorf("parsing agents file: %w", err)
	}
	if af.Agents == nil {
		af.Agents = map[string]AgentDef{}
	}

	return &af, nil
}

// WorkingDir returns the configured working directory for an agent, or ""
// when the agent has no definition.
func (a *AgentsFile) WorkingDir(agentName string) string {
	return a.Agents[agentName].WorkingDirectory
}

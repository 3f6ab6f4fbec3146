package coordinator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hypera/hypera/agent"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// checkpointName is the file name of the coordinator checkpoint in an
// agent checkpoint directory
const checkpointName = "agent_coordinator"

// agentFile returns the checkpoint file of the named agent in dir
func agentFile(dir, name string) string {
	return filepath.Join(dir, name+"_agent")
}

// checkpoint holds the gob-encodable state of a Coordinator
type checkpoint struct {
	Weights     map[string]float64
	Performance map[string][]float64
	Resolution  Resolution
}

// manifest describes a saved Coordinator
type manifest struct {
	Resolution Resolution `yaml:"conflict_resolution"`
	Agents     []string   `yaml:"agent_names"`
}

// SaveAgents saves every agent to "<name>_agent" in dir, and the agent
// weights, performance histories and resolution mode to
// "agent_coordinator" in dir
func (c *Coordinator) SaveAgents(dir string) error {
	for _, a := range c.agents {
		if err := a.Save(agentFile(dir, a.Name())); err != nil {
			return fmt.Errorf("saveagents: could not save agent %v: %v",
				a.Name(), err)
		}
	}

	ckpt := checkpoint{
		Weights:     c.Weights(),
		Performance: make(map[string][]float64, len(c.performance)),
		Resolution:  c.config.Resolution,
	}
	for name := range c.performance {
		ckpt.Performance[name] = c.Performance(name)
	}
	if err := agent.SaveGob(filepath.Join(dir, checkpointName),
		ckpt); err != nil {
		return fmt.Errorf("saveagents: %v", err)
	}

	logrus.Infof("saved %d agents to %v", len(c.agents), dir)
	return nil
}

// LoadAgents loads every agent from "<name>_agent" in dir and returns
// whether all agents were loaded. Agents without a checkpoint keep
// their state. The coordinator checkpoint is optional; if present, the
// weights and performance histories of known agents and the
// resolution mode are restored from it.
func (c *Coordinator) LoadAgents(dir string) bool {
	loaded := true
	for _, a := range c.agents {
		err := a.Load(agentFile(dir, a.Name()))
		if errors.Is(err, agent.ErrCheckpointNotFound) {
			logrus.Warnf("no checkpoint for agent %v in %v", a.Name(), dir)
			loaded = false
		} else if err != nil {
			logrus.Errorf("could not load agent %v: %v", a.Name(), err)
			loaded = false
		}
	}

	var ckpt checkpoint
	err := agent.LoadGob(filepath.Join(dir, checkpointName), &ckpt)
	if errors.Is(err, agent.ErrCheckpointNotFound) {
		return loaded
	} else if err != nil {
		logrus.Errorf("could not load coordinator state: %v", err)
		return false
	}

	for name, w := range ckpt.Weights {
		if _, ok := c.weights[name]; ok {
			c.weights[name] = w
		}
	}
	for name, rewards := range ckpt.Performance {
		if _, ok := c.performance[name]; ok {
			c.performance[name] = rewards
		}
	}
	if ckpt.Resolution != "" {
		c.config.Resolution = ckpt.Resolution
	}
	return loaded
}

// Save writes the resolution mode and agent names to the YAML file at
// path and saves the agents to the directory containing path
func (c *Coordinator) Save(path string) error {
	m := manifest{Resolution: c.config.Resolution}
	for _, a := range c.agents {
		m.Agents = append(m.Agents, a.Name())
	}

	out, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("save: could not marshal coordinator: %v", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save: could not create directory: %v", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("save: %v", err)
	}

	if err := c.SaveAgents(dir); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Load restores a Coordinator saved with Save and returns whether it
// was fully restored. The saved agent names must match the
// coordinator's agents.
func (c *Coordinator) Load(path string) bool {
	in, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("could not read coordinator: %v", err)
		return false
	}

	var m manifest
	if err := yaml.Unmarshal(in, &m); err != nil {
		logrus.Errorf("could not unmarshal coordinator: %v", err)
		return false
	}
	if len(m.Agents) != len(c.agents) {
		logrus.Errorf("coordinator saved with %d agents, have %d",
			len(m.Agents), len(c.agents))
		return false
	}
	for _, name := range m.Agents {
		if _, ok := c.weights[name]; !ok {
			logrus.Errorf("coordinator saved with unknown agent %v", name)
			return false
		}
	}

	c.config.Resolution = m.Resolution
	return c.LoadAgents(filepath.Dir(path))
}

// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be YAML serialized into configuration files.
package solver

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

var configTypes = map[Type]reflect.Type{
	Adam:    reflect.TypeOf(AdamConfig{}),
	Vanilla: reflect.TypeOf(VanillaConfig{}),
	RMSProp: reflect.TypeOf(RMSPropConfig{}),
}

// Solver wraps Gorgonia Solvers so that they can be YAML marshalled and
// unmarshalled. In YAML, a Solver is a mapping holding its type
// alongside its configuration:
//
//	{type: Adam, step_size: 0.0003}
type Solver struct {
	G.Solver `yaml:"-"`
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c}
	solver.Solver = solver.Config.Create()

	return &solver, nil
}

// Reset replaces the wrapped Gorgonia Solver with a fresh one created
// from the Config, discarding any accumulated optimizer state
func (s *Solver) Reset() {
	s.Solver = s.Config.Create()
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (s *Solver) UnmarshalYAML(value *yaml.Node) error {
	var header struct {
		Type Type `yaml:"type"`
	}
	if err := value.Decode(&header); err != nil {
		return fmt.Errorf("unmarshalyaml: could not decode type: %v", err)
	}

	ty, ok := configTypes[header.Type]
	if !ok {
		return fmt.Errorf("unmarshalyaml: unknown solver type %q", header.Type)
	}

	config := reflect.New(ty)
	if err := value.Decode(config.Interface()); err != nil {
		return fmt.Errorf("unmarshalyaml: could not decode %v config: %v",
			header.Type, err)
	}

	s.Type = header.Type
	s.Config = config.Elem().Interface().(Config)
	s.Solver = s.Config.Create()

	return nil
}

// MarshalYAML implements the yaml.Marshaler interface
func (s Solver) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	if err := node.Encode(s.Config); err != nil {
		return nil, fmt.Errorf("marshalyaml: %v", err)
	}
	node.Style = 0
	node.Content = append([]*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "type"},
		{Kind: yaml.ScalarNode, Value: string(s.Type)},
	}, node.Content...)

	return &node, nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool

	// LearningRate returns the step size of the solver
	LearningRate() float64
}

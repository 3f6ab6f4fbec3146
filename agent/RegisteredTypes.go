package agent

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Type represents a specific type of agent Config.
//
// For example, a TypedConfig with Type LearningRate holds the
// configuration of a learning rate agent.
type Type string

const (
	LearningRate Type = "LearningRate"
	ClassWeights Type = "ClassWeights"
	FGBalance    Type = "FGBalance"
)

// Registered types with the package, mapped to a function returning
// the default Config of the type. Once a Type has been registered with this map, a
// TypedConfig of that Type can be decoded.
//
// No Types are registered with this package upon initialization. Each
// agent package registers its own Configs to avoid circular imports.
var registeredTypes = make(map[Type]func() Config)

// Register registers an agent Type with a function returning its
// default Config. Decoding a TypedConfig of type agentType starts from
// a fresh default Config, so fields absent from the YAML keep their
// default values. The function must not return Configs that share
// pointers, since decoding writes through them.
func Register(agentType Type, defaults func() Config) {
	registeredTypes[agentType] = defaults
}

// IsRegistered returns whether agentType has been registered
func IsRegistered(agentType Type) bool {
	_, ok := registeredTypes[agentType]
	return ok
}

// TypedConfig wraps a Config so that it can be decoded from YAML into
// its concrete type. In YAML, a TypedConfig is the mapping of its
// Config with an additional type key:
//
//	type: LearningRate
//	name: lr
//	initial_value: 0.001
type TypedConfig struct {
	Config
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (t *TypedConfig) UnmarshalYAML(node *yaml.Node) error {
	var header struct {
		Type Type `yaml:"type"`
	}
	if err := node.Decode(&header); err != nil {
		return fmt.Errorf("unmarshalyaml: %v", err)
	}

	defaults, ok := registeredTypes[header.Type]
	if !ok {
		return fmt.Errorf("unmarshalyaml: unregistered agent type %q",
			header.Type)
	}

	config := defaults()
	value := reflect.New(reflect.TypeOf(config))
	value.Elem().Set(reflect.ValueOf(config))
	if err := node.Decode(value.Interface()); err != nil {
		return fmt.Errorf("unmarshalyaml: could not decode %v config: %v",
			header.Type, err)
	}
	t.Config = value.Elem().Interface().(Config)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface
func (t TypedConfig) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	if err := node.Encode(t.Config); err != nil {
		return nil, fmt.Errorf("marshalyaml: %v", err)
	}
	typeKey := &yaml.Node{Kind: yaml.ScalarNode, Value: "type"}
	typeValue := &yaml.Node{Kind: yaml.ScalarNode,
		Value: string(t.Config.Type())}
	node.Content = append([]*yaml.Node{typeKey, typeValue}, node.Content...)
	return &node, nil
}

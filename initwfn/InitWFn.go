// Package initwfn implements functionality to wrap Gorgonia InitWFn
// so that they can be YAML serialized into configuration files.
package initwfn

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	HeU      Type = "HeU"
	HeN      Type = "HeN"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Constant Type = "Constant"
	Gaussian Type = "Gaussian"
	Uniform  Type = "Uniform"
)

var configTypes = map[Type]reflect.Type{
	GlorotU:  reflect.TypeOf(GlorotUConfig{}),
	GlorotN:  reflect.TypeOf(GlorotNConfig{}),
	HeU:      reflect.TypeOf(HeUConfig{}),
	HeN:      reflect.TypeOf(HeNConfig{}),
	Zeroes:   reflect.TypeOf(ZeroesConfig{}),
	Ones:     reflect.TypeOf(OnesConfig{}),
	Constant: reflect.TypeOf(ConstantConfig{}),
	Gaussian: reflect.TypeOf(GaussianConfig{}),
	Uniform:  reflect.TypeOf(UniformConfig{}),
}

// InitWFn wraps Gorgonia InitWFn so that they can be YAML marshalled
// and unmarshalled. In YAML, an InitWFn is a mapping holding its type
// alongside its configuration:
//
//	{type: GlorotU, gain: 1.0}
type InitWFn struct {
	initWFn G.InitWFn
	Type
	Config
}

// newInitWFn returns a new InitWFn
func newInitWFn(c Config) (*InitWFn, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new%v: %v", c.Type(), err)
	}
	init := InitWFn{Type: c.Type(), Config: c}
	init.initWFn = init.Config.Create()

	return &init, nil
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (i *InitWFn) InitWFn() G.InitWFn {
	return i.initWFn
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", i.Type, i.Config)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (i *InitWFn) UnmarshalYAML(value *yaml.Node) error {
	var header struct {
		Type Type `yaml:"type"`
	}
	if err := value.Decode(&header); err != nil {
		return fmt.Errorf("unmarshalyaml: could not decode type: %v", err)
	}

	ty, ok := configTypes[header.Type]
	if !ok {
		return fmt.Errorf("unmarshalyaml: unknown InitWFn type %q",
			header.Type)
	}

	config := reflect.New(ty)
	if err := value.Decode(config.Interface()); err != nil {
		return fmt.Errorf("unmarshalyaml: could not decode %v config: %v",
			header.Type, err)
	}

	c := config.Elem().Interface().(Config)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("unmarshalyaml: %v", err)
	}

	i.Type = header.Type
	i.Config = c
	i.initWFn = i.Config.Create()

	return nil
}

// MarshalYAML implements the yaml.Marshaler interface
func (i InitWFn) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	if err := node.Encode(i.Config); err != nil {
		return nil, fmt.Errorf("marshalyaml: %v", err)
	}
	node.Style = 0
	node.Content = append([]*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "type"},
		{Kind: yaml.ScalarNode, Value: string(i.Type)},
	}, node.Content...)

	return &node, nil
}

// Config implements a Gorgonia InitWFn configuration and can be used to
// create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes
	Create() G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type

	Validate() error
}

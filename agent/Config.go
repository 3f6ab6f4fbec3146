package agent

// Config is the configuration of an agent
type Config interface {
	// Type returns the registered type of the agent described
	Type() Type

	// Validate returns an error describing whether or not the
	// configuration is valid
	Validate() error
}

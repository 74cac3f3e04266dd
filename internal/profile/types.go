// Package profile describes how a computation engine is driven: flags, output
// wrappers, stderr classification and static MCP resources.
package profile

// Profile is the top-level engine profile YAML.
type Profile struct {
	// Server describes the MCP server identity.
	Server ServerConfig `yaml:"server"`
	// Engine describes the engine command line and output handling.
	Engine EngineConfig `yaml:"engine"`
	// Resources lists static resources.
	Resources []ResourceConfig `yaml:"resources"`
}

// ServerConfig defines MCP server identity.
type ServerConfig struct {
	// Name is the MCP server name.
	Name string `yaml:"name"`
	// Version is the MCP server version.
	Version string `yaml:"version"`
	// Instructions are sent to clients on initialize.
	Instructions string `yaml:"instructions"`
}

// EngineConfig defines how the engine binary is invoked.
type EngineConfig struct {
	// CodeFlag precedes the code argument.
	CodeFlag string `yaml:"code_flag"`
	// TimeoutFlag passes the timeout in seconds; empty omits it.
	TimeoutFlag string `yaml:"timeout_flag"`
	// ExtraArgs precede the timeout and code flags.
	ExtraArgs []string `yaml:"extra_args"`
	// Env adds environment variables for the engine process.
	Env map[string]string `yaml:"env"`
	// WarmupCode is evaluated once at startup.
	WarmupCode string `yaml:"warmup_code"`
	// PackagesCode lists packages, one per line. Empty disables list_packages.
	PackagesCode string `yaml:"packages_code"`
	// Wrappers override the output wrappers for latex and native.
	Wrappers WrappersConfig `yaml:"wrappers"`
	// BenignStderr lists substrings of stderr lines that are ignored.
	BenignStderr []string `yaml:"benign_stderr"`
	// FatalStderrPrefixes fail a call when a stderr line starts with one.
	FatalStderrPrefixes []string `yaml:"fatal_stderr_prefixes"`
	// ErrorPatterns are regular expressions for the possibleError flag.
	ErrorPatterns []string `yaml:"error_patterns"`
}

// WrappersConfig holds format templates containing the code placeholder.
type WrappersConfig struct {
	Latex  string `yaml:"latex"`
	Native string `yaml:"native"`
}

// ResourceConfig declares a static MCP resource.
type ResourceConfig struct {
	// Name is a human-friendly resource name.
	Name string `yaml:"name"`
	// URI is the resource identifier.
	URI string `yaml:"uri"`
	// Description explains the resource.
	Description string `yaml:"description"`
	// MIMEType sets the content type.
	MIMEType string `yaml:"mime_type"`
	// Text is the static resource content.
	Text string `yaml:"text"`
}

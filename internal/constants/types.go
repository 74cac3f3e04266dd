package constants

// Transport names.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Tool names exposed over MCP.
const (
	ToolExecuteCode  = "execute_code"
	ToolEngineStatus = "engine_status"
	ToolListPackages = "list_packages"
)

// CodePlaceholder marks where user code is spliced into a format wrapper.
const CodePlaceholder = "@CODE@"

// Default HTTP endpoint paths.
const (
	PathHealth  = "/health"
	PathHealthz = "/healthz"
	PathReadyz  = "/readyz"
	PathInfo    = "/info"
	PathMetrics = "/metrics"
)

// DefaultMaxOutputLength is the truncation limit applied to tool output.
const DefaultMaxOutputLength = 10000

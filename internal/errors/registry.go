package errors

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Configuration (E100-E109)

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "No socketd.yaml was found at the given path.",
		Suggestion: "Run without --config to use defaults, or pass the path of an existing file.",
	},
	"E101": {
		Category:   CategoryConfig,
		Message:    "Invalid config file",
		Detail:     "The config file could not be parsed as YAML.",
		Suggestion: "Durations are strings such as \"30s\" or \"2h\".",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A config value is out of range or has the wrong format.",
	},

	// Connection (E110-E119)

	"E110": {
		Category:   CategoryConnection,
		Message:    "Invalid connection URL",
		Detail:     "Connection URLs have the form sd:<scheme>://host[:port][/path][?query].",
		Suggestion: "Example: sd:tcp://127.0.0.1:8602/?@=demo",
	},
	"E111": {
		Category:   CategoryConnection,
		Message:    "Connection failed",
		Detail:     "The transport could not be opened or was lost.",
		Suggestion: "Check that the server is running and the scheme matches its transport.",
	},
	"E112": {
		Category:   CategoryConnection,
		Message:    "Connection rejected by server",
		Detail:     "The server answered the handshake with Close. Its OnOpen hook refused the connection.",
		Suggestion: "Check the handshake parameters in the URL query (tokens, @ name).",
	},
	"E113": {
		Category:   CategoryConnection,
		Message:    "Timed out",
		Detail:     "The handshake, request or subscription did not complete in time.",
		Suggestion: "Raise --timeout, or check that the server handles the event.",
	},
	"E114": {
		Category: CategoryConnection,
		Message:  "Alarm from peer",
		Detail:   "The peer rejected the message with an Alarm.",
	},
	"E115": {
		Category:   CategoryConnection,
		Message:    "Unsupported scheme",
		Detail:     "Supported schemes are tcp, tcps, ws and wss.",
		Suggestion: "Use sd:tcp://... or sd:ws://...",
	},

	// Server (E120-E129)

	"E120": {
		Category:   CategoryConnection,
		Message:    "Listen failed",
		Detail:     "The server could not bind its address.",
		Suggestion: "Is another process using the port? Try --port.",
	},
	"E121": {
		Category:   CategoryConfig,
		Message:    "TLS configuration failed",
		Detail:     "The certificate or key could not be loaded.",
		Suggestion: "Pass PEM files with --cert and --key.",
	},

	// Protocol (E130-E139)

	"E130": {
		Category: CategoryProtocol,
		Message:  "Protocol error",
		Detail:   "The peer sent a frame that violates the SocketD protocol.",
	},

	// CLI (E140-E149)

	"E140": {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
	},
}

// Lookup returns the template for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

package protocol

const (
	// ProtocolVersion is the protocol revision the exercises negotiate
	ProtocolVersion = "2024-11-05"

	// Methods for lifecycle management
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"

	// Methods for tools
	MethodListTools        = "tools/list"
	MethodCallTool         = "tools/call"
	MethodToolsListChanged = "notifications/tools/list_changed"

	// Methods for utilities
	MethodCancelled = "notifications/cancelled"
)

// Implementation names a client or server and its version
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises tool support and list_changed notifications
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the capability set a server announces in initialize
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ClientCapabilities is the capability set a client announces in initialize
type ClientCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
}

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult defines the response for the initialize request
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// CancelledParams is carried by notifications/cancelled
type CancelledParams struct {
	RequestID interface{} `json:"requestId"`
	Reason    string      `json:"reason,omitempty"`
}

// PingResult is the empty response to ping
type PingResult struct{}

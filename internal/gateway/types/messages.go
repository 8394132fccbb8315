package types

const (
	TypeLogin   = "login"
	TypeHistory = "history"
	TypeError   = "error"

	AckOK    = "ok"
	AckError = "error"
)

// OperatorRequest covers both operator message shapes:
//
//	{"type":"login","esp_id":"43130","password":"..."}
//	{"type":"history","esp_id":"43130","count":50}
type OperatorRequest struct {
	Type     string `json:"type"`
	EspID    string `json:"esp_id"`
	Password string `json:"password,omitempty"`
	Count    int    `json:"count,omitempty"`
}

type LoginReply struct {
	Type       string           `json:"type"`
	Success    bool             `json:"success"`
	LatestData *TelemetryRecord `json:"latest_data,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// FailureReply is sent for refused history requests and unsupported
// operator messages.
type FailureReply struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// DeviceAck acknowledges a telemetry frame that passed authentication.
type DeviceAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

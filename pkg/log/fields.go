package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Same key the auth middleware stores the caller under.
	FieldUserID = "user_id"

	// Chat
	FieldRoomID    = "room_id"
	FieldSessionID = "session_id"
	FieldConnID    = "conn_id"
	FieldCloseCode = "close_code"
	FieldEvent     = "event"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)

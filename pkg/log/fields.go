package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldParticipantID = "participant_id"
	FieldRole          = "role"

	// Consultation
	FieldSessionID = "session_id"
	FieldConsultID = "consult_request_id"
	FieldRoomID    = "room_id"
	FieldEventType = "event_type"
	FieldEpoch     = "epoch"

	// Service
	FieldService   = "service"
	FieldComponent = "component"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)

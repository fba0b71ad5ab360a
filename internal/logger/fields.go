package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields. These are carried in the context logger and follow a scan
// through the scheduler, the ranking client and the store.
const (
	FieldRequestID  = "request_id"
	FieldScanID     = "scan_id"
	FieldCampaignID = "campaign_id"
	FieldComponent  = "component"
	FieldClass      = "endpoint_class"
	FieldKeyword    = "keyword"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldAttempt    = "attempt"
	FieldProgress   = "progress"
)

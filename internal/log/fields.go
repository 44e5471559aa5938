package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldEntryID    = "entry_id"
	FieldReceiptID  = "receipt_id"
	FieldSide       = "side"
	FieldYear       = "year"
	FieldMonth      = "month"
	FieldSource     = "source"
	FieldStoredName = "stored_name"
	FieldHash       = "content_hash"
	FieldArchive    = "archive"
	FieldCount      = "count"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentStorage  = "storage"
	ComponentReceipts = "receipts"
	ComponentExport   = "export"
	ComponentMigrate  = "migrate"
)

package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldBatchID       = "batch_id"
	FieldTransactionID = "transaction_id"
	FieldAccountID     = "account_id"
	FieldCategory      = "category"
	FieldStatus        = "status"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentIngestion = "ingestion"
	ComponentReport    = "report"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentQueue     = "queue"
	ComponentWorker    = "worker"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentCache     = "cache"
)

// Operations defines standard operation names
const (
	OpIngest   = "ingest"
	OpClassify = "classify"
	OpSweep    = "sweep"
	OpRecover  = "recover"
	OpSummary  = "summary"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

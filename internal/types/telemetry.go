package types

// CloudWatch metric names and dimension keys. Collectors and callers share
// these so dashboards and alarms key off one spelling.
const (
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricWebhookEvent    = "WebhookEvent"
	MetricStreakCheck     = "StreakCheck"
	MetricFreezeConsumed  = "StreakFreezeConsumed"

	DimEndpoint  = "Endpoint"
	DimMethod    = "Method"
	DimStatus    = "Status"
	DimEventType = "EventType"
	DimOutcome   = "Outcome"
	DimBranch    = "Branch"

	MetricNamespace = "Stride"
)

// Package metrics buffers service telemetry and ships it to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"stride/internal/entitlement"
	"stride/internal/streak"
	"stride/internal/types"
)

// CloudWatch accepts at most 1000 datums per PutMetricData call.
const (
	maxDatumsPerCall = 1000
	maxPending       = 10 * maxDatumsPerCall
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Collector records API, webhook and streak metrics. Record calls only
// append to an in-memory buffer; Flush (or Run) ships it.
//
// Metrics emitted:
//   - APILatency, APIRequestCount: Dims {Method, Endpoint, Status}
//   - WebhookEvent: Dims {EventType, Outcome}
//   - StreakCheck: Dims {Branch}
//   - StreakFreezeConsumed: no dims
type Collector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	clock     func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	dropped int
}

// NewCollector creates a Collector publishing to namespace. An empty
// namespace uses types.MetricNamespace.
func NewCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *Collector {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		client:    client,
		namespace: namespace,
		logger:    logger,
		clock:     time.Now,
	}
}

var (
	_ entitlement.Recorder = (*Collector)(nil)
	_ streak.Recorder      = (*Collector)(nil)
)

// RecordRequest records latency and a count for one API request.
func (c *Collector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	c.add(
		c.datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims),
		c.datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims),
	)
}

func (c *Collector) RecordWebhookEvent(_ context.Context, eventType string, outcome entitlement.Outcome) {
	c.add(c.datum(types.MetricWebhookEvent, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		dim(types.DimEventType, eventType),
		dim(types.DimOutcome, string(outcome)),
	}))
}

func (c *Collector) RecordStreakCheck(_ context.Context, branch streak.Branch) {
	c.add(c.datum(types.MetricStreakCheck, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		dim(types.DimBranch, string(branch)),
	}))
}

func (c *Collector) RecordFreezeConsumed(_ context.Context) {
	c.add(c.datum(types.MetricFreezeConsumed, 1, cwtypes.StandardUnitCount, nil))
}

// Flush sends everything buffered so far. Datums from a failed call are
// dropped; metrics are best-effort.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.WarnContext(ctx, "metric buffer overflowed; datums dropped", "dropped", dropped)
	}

	var firstErr error
	for start := 0; start < len(batch); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(batch))
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to publish metrics",
				"error", err.Error(),
				"datums", end-start,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short detached deadline.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.Flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = c.Flush(final)
			cancel()
			return
		}
	}
}

func (c *Collector) add(datums ...cwtypes.MetricDatum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if overflow := len(c.pending) + len(datums) - maxPending; overflow > 0 {
		c.pending = c.pending[overflow:]
		c.dropped += overflow
	}
	c.pending = append(c.pending, datums...)
}

func (c *Collector) datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(c.clock().UTC()),
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Nop discards everything. It is used when metrics are disabled.
type Nop struct{}

func (Nop) RecordRequest(string, string, string, time.Duration) {}
func (Nop) RecordWebhookEvent(context.Context, string, entitlement.Outcome) {}
func (Nop) RecordStreakCheck(context.Context, streak.Branch) {}
func (Nop) RecordFreezeConsumed(context.Context) {}
func (Nop) Flush(context.Context) error { return nil }

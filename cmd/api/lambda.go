package main

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"

	"stride/internal/core"
)

// lambdaHandler is the API Gateway HTTP API (payload format 2.0) entry point.
type lambdaHandler func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// runLambda hands the router to the Lambda runtime. lambda.Start only
// returns if the runtime API is unreachable, in which case it exits the
// process itself.
func runLambda(srv *core.Server, tel telemetry, logger *slog.Logger) error {
	lambda.Start(newLambdaHandler(chiadapter.NewV2(srv.Router()), tel.Flush, logger))
	return nil
}

// newLambdaHandler proxies API Gateway v2 events through adapter. Metrics are
// flushed after every invocation because the execution environment may be
// frozen between requests.
func newLambdaHandler(adapter *chiadapter.ChiLambdaV2, flush func(context.Context) error, logger *slog.Logger) lambdaHandler {
	return func(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		event.Headers = withRequestID(event)

		resp, err := adapter.ProxyWithContextV2(ctx, event)

		if flush != nil {
			if ferr := flush(ctx); ferr != nil {
				logger.WarnContext(ctx, "metrics flush failed", "error", ferr)
			}
		}

		// The adapter only fails before routing, when the event cannot be
		// turned into a request.
		if err != nil {
			logger.ErrorContext(ctx, "failed to convert API Gateway event", "error", err)
			return events.APIGatewayV2HTTPResponse{
				StatusCode: http.StatusBadRequest,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       `{"error":{"code":"validation_invalid_field","message":"malformed request"}}`,
			}, nil
		}
		return resp, nil
	}
}

// withRequestID returns the event headers with the API Gateway request id as
// X-Request-Id unless the caller already sent one.
func withRequestID(event events.APIGatewayV2HTTPRequest) map[string]string {
	if event.RequestContext.RequestID == "" {
		return event.Headers
	}
	for k := range event.Headers {
		if strings.EqualFold(k, "X-Request-Id") {
			return event.Headers
		}
	}
	headers := make(map[string]string, len(event.Headers)+1)
	maps.Copy(headers, event.Headers)
	headers["x-request-id"] = event.RequestContext.RequestID
	return headers
}

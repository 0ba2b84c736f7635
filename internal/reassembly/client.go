package reassembly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/topasiaedu/transcribe-upload/internal/logger"
)

// NewHTTPClient returns a retrying, traced HTTP client for chunk downloads
// and worker calls.
func NewHTTPClient(retryMax int, timeout time.Duration, log *logger.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = timeout
	client.HTTPClient.Transport = otelhttp.NewTransport(client.HTTPClient.Transport)
	if log == nil {
		client.Logger = nil
	} else {
		client.Logger = leveledLogger{log: log}
	}
	return client
}

// leveledLogger adapts the service logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log *logger.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error(context.Background(), format(msg, keysAndValues), nil)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn(context.Background(), format(msg, keysAndValues), nil)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(context.Background(), format(msg, keysAndValues))
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug(context.Background(), format(msg, keysAndValues))
}

func format(msg string, keysAndValues []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}

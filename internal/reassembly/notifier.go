package reassembly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type notifyRequest struct {
	TranscriptionTaskID string `json:"transcription_task_id"`
}

// WorkerNotifier tells the remote transcription worker that a task's
// chunks are uploaded and recorded.
type WorkerNotifier struct {
	url    string
	client *retryablehttp.Client
}

func NewWorkerNotifier(url string, client *retryablehttp.Client) *WorkerNotifier {
	if client == nil {
		client = NewHTTPClient(3, 0, nil)
	}
	return &WorkerNotifier{url: url, client: client}
}

func (n *WorkerNotifier) NotifyUploaded(ctx context.Context, taskID string) error {
	ctx, span := tracer.Start(ctx, "worker.notify_uploaded",
		trace.WithAttributes(attribute.String("task_id", taskID)),
	)
	defer span.End()

	body, err := json.Marshal(notifyRequest{TranscriptionTaskID: taskID})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return fmt.Errorf("failed to build worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to notify worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("worker returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Bool("notify_success", true))
	return nil
}

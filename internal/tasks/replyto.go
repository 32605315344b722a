package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sethvargo/go-retry"
)

// postReplyTo delivers a terminal result to the submitter's reply-to address.
// Used for submitters whose synchronous wait timed out.
func (r *Registry) postReplyTo(ctx context.Context, replyTo string, result *TaskResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return retry.Do(ctx,
		retry.WithMaxRetries(3, retry.NewConstant(r.pushInterval)),
		func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, replyTo, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return retry.RetryableError(err)
			}
			resp.Body.Close()
			if resp.StatusCode >= 500 {
				return retry.RetryableError(fmt.Errorf("reply-to returned %s", resp.Status))
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("reply-to returned %s", resp.Status)
			}
			return nil
		})
}

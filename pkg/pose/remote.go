package pose

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/teslashibe/go-posture/internal/httpc"
	"github.com/teslashibe/go-posture/pkg/landmark"
)

// Remote asks an HTTP pose service for landmarks. The service receives the
// JPEG as the request body and answers with a landmark record:
//
//	{"person": true, "sample": {"nose": {"x": .5, "y": .3}, ...}}
type Remote struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewRemote creates a remote estimator for url.
func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = httpc.DefaultTimeout
	}
	return &Remote{
		url:     url,
		client:  httpc.NewClient(timeout),
		timeout: timeout,
	}
}

// Estimate posts the frame and decodes the answer.
func (r *Remote) Estimate(jpeg []byte) (*landmark.Sample, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	body, err := httpc.Post(ctx, r.client, r.url, "image/jpeg", jpeg)
	if err != nil {
		return nil, fmt.Errorf("pose service: %w", err)
	}

	var rec landmark.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("pose service: decode: %w", err)
	}
	if rec.Person != nil && !*rec.Person {
		return nil, nil
	}
	return rec.Sample, nil
}

// Close releases idle connections
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// Package gateway talks to the remote clustering service. It translates local
// requests into the two POST endpoints and normalizes every failure into a
// RemoteError or TransportError. The client holds no mutable state, performs
// no retries and caches nothing.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"segmentation-console/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	retrainPath = "/retrain"
	predictPath = "/predict"
)

// Client issues retrain and predict calls against one base URL. It is safe
// for concurrent use; calls never share state.
type Client struct {
	base string
	rest *resty.Client
}

// New builds a client for the service at base. A non-positive timeout falls
// back to 30s; callers impose tighter deadlines through the context.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

type retrainResp struct {
	Message string `json:"message"`
}

type predictResp struct {
	Cluster *int `json:"cluster"`
}

// Retrain asks the service to refit with req.ClusterCount clusters. The
// cluster count is trusted; validate it before calling.
func (c *Client) Retrain(ctx context.Context, req model.RetrainRequest) (model.RetrainResult, error) {
	var out retrainResp
	if err := c.post(ctx, "retrain", retrainPath, req, &out); err != nil {
		return model.RetrainResult{}, err
	}

	res := model.RetrainResult{Message: out.Message}
	if score, ok := ExtractSilhouetteScore(out.Message); ok {
		res.SilhouetteScore = &score
	}
	return res, nil
}

// Predict classifies a single customer.
func (c *Client) Predict(ctx context.Context, req model.PredictRequest) (model.PredictResult, error) {
	var out predictResp
	if err := c.post(ctx, "predict", predictPath, req, &out); err != nil {
		return model.PredictResult{}, err
	}
	if out.Cluster == nil {
		return model.PredictResult{}, &TransportError{Op: "predict", Err: errors.New("response has no cluster field")}
	}
	if *out.Cluster < 0 {
		return model.PredictResult{}, &TransportError{Op: "predict", Err: fmt.Errorf("negative cluster %d", *out.Cluster)}
	}
	return model.PredictResult{Cluster: *out.Cluster}, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	start := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.base + path)
	if err != nil {
		log.Debug().Err(err).Str("op", op).Msg("request failed")
		return &TransportError{Op: op, Err: err}
	}

	log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("remote call completed")

	if !resp.IsSuccess() {
		return &RemoteError{Op: op, Status: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

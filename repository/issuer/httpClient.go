package issuerrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"loyalty/util/errs"
	"loyalty/util/httpx"
	"loyalty/util/retry"
)

type httpRepo struct {
	url    string
	apiKey string
	client *http.Client
	retry  *retry.Executor
}

func NewHTTP(url, apiKey string, timeout time.Duration, rc retry.Config) Repo {
	return &httpRepo{
		url:    url,
		apiKey: apiKey,
		client: httpx.NewClient(timeout),
		retry:  retry.New(rc),
	}
}

func (r *httpRepo) Issue(ctx context.Context, req IssueReq) (*IssueResp, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var out IssueResp
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(b))
		if err != nil {
			return err
		}
		httpReq.SetBasicAuth(r.apiKey, "")
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.RedemptionID)

		resp, err := r.client.Do(httpReq)
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, err, "reward issuer unreachable", nil)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return errs.New(errs.StorageUnavailable, "reward issuer unavailable", errs.Details{"status": resp.StatusCode})
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("reward issuer rejected request: %s", resp.Status)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, err
	}
	if out.Code == "" {
		return nil, errors.New("reward issuer: empty code")
	}
	return &out, nil
}

package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	importerrors "github.com/Ramsey-B/heather/pkg/errors"
	"github.com/Ramsey-B/heather/pkg/httpclient"
	"github.com/Ramsey-B/heather/pkg/tracing"
)

// Executor sends one query upstream and returns the raw body.
type Executor interface {
	Execute(ctx context.Context, query string) (string, error)
}

type HTTPExecutor struct {
	client    *httpclient.Client
	url       string
	userAgent string
	logger    ectologger.Logger
}

func NewHTTPExecutor(client *httpclient.Client, url, userAgent string, logger ectologger.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		client:    client,
		url:       url,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Execute makes a single attempt. Blank queries fail with InvalidArgument, network failures and
// non-2xx statuses with TransportError, and blank bodies or GraphQL errors with UpstreamError.
func (e *HTTPExecutor) Execute(ctx context.Context, query string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "feed.HTTPExecutor.Execute")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return "", importerrors.InvalidArgument("query must not be blank")
	}

	resp, err := e.client.Post(ctx, e.url, []byte(query), map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"User-Agent":   e.userAgent,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return "", importerrors.Transport("failed to reach feed", err)
	}

	if !resp.OK() {
		err := importerrors.Transport(fmt.Sprintf("feed responded with status %d", resp.StatusCode), nil).AddStatusCode(resp.StatusCode)
		tracing.RecordError(span, err)
		return "", err
	}

	body := string(resp.Body)
	if strings.TrimSpace(body) == "" {
		return "", importerrors.Upstream("feed returned an empty body", nil)
	}

	if hasGraphQLErrors(resp.Body) {
		e.logger.WithContext(ctx).WithFields(map[string]any{"body_bytes": len(resp.Body)}).Warn("feed response carries GraphQL errors")
		return "", importerrors.Upstream("feed returned GraphQL errors", nil)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{"body_bytes": len(resp.Body)}).Debug("feed query executed")
	return body, nil
}

// hasGraphQLErrors looks only at the top-level "errors" member. Bodies that are not a JSON
// object are left to the mapper.
func hasGraphQLErrors(body []byte) bool {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	raw, ok := envelope["errors"]
	if !ok {
		return false
	}
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "[]", "{}", `""`:
		return false
	}
	return true
}

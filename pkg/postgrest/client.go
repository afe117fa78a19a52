// Package postgrest is a small client for the PostgREST API that fronts a hosted Postgres
// database. It covers the two shapes we need: reading columns from a table, and calling
// a database function over RPC.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alecthomas/kingpin"
	kitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/trace"
)

// Version is sent in X-Client-Info, so server logs can tell our requests apart
var Version = "dev"

type Options struct {
	URL        string
	ServiceKey string
	Schema     string
	Timeout    time.Duration
}

func (opt *Options) Bind(cmd *kingpin.Application, prefix string) *Options {
	cmd.Flag(fmt.Sprintf("%surl", prefix), "Base URL of the project, without /rest/v1").Envar("SUPABASE_URL").StringVar(&opt.URL)
	cmd.Flag(fmt.Sprintf("%sservice-key", prefix), "Service role key used as apikey and bearer token").Envar("SUPABASE_SERVICE_ROLE_KEY").StringVar(&opt.ServiceKey)
	cmd.Flag(fmt.Sprintf("%sschema", prefix), "Schema exposed by the API that RPCs resolve against").Default("public").StringVar(&opt.Schema)
	cmd.Flag(fmt.Sprintf("%stimeout", prefix), "Timeout for each HTTP request").Default("30s").DurationVar(&opt.Timeout)

	return opt
}

type Client struct {
	logger kitlog.Logger
	base   *url.URL
	key    string
	schema string
	http   *http.Client
}

// New validates options and prepares a client. Nothing is sent to the server until the
// first request.
func New(logger kitlog.Logger, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("no API URL configured")
	}
	if opts.ServiceKey == "" {
		return nil, errors.New("no service key configured")
	}

	base, err := url.Parse(strings.TrimSuffix(opts.URL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid API URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL scheme: %q", base.Scheme)
	}

	schema := opts.Schema
	if schema == "" {
		schema = "public"
	}

	return &Client{
		logger: logger,
		base:   base,
		key:    opts.ServiceKey,
		schema: schema,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &ochttp.Transport{
				Base: http.DefaultTransport,
			},
		},
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = fmt.Sprintf("%s/rest/v1/%s", u.Path, strings.TrimPrefix(path, "/"))
	u.RawQuery = query.Encode()

	return u.String()
}

// do issues one request, returning the raw body of a successful response. Failures that
// reach the network are returned as a *migration.RemoteCallFailure.
func (c *Client) do(ctx context.Context, method, path, schema string, query url.Values, body interface{}) (json.RawMessage, error) {
	ctx, span := trace.StartSpan(ctx, "pkg/postgrest.Client.do")
	defer span.End()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	requestID := uuid.New().String()
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.key))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Info", fmt.Sprintf("supamigrate/%s", Version))
	req.Header.Set("X-Request-Id", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// PostgREST defaults to the first exposed schema, so only name it when it differs
	if schema != "" && schema != "public" {
		if method == http.MethodGet || method == http.MethodHead {
			req.Header.Set("Accept-Profile", schema)
		} else {
			req.Header.Set("Content-Profile", schema)
		}
	}

	span.AddAttributes(
		trace.StringAttribute("request_id", requestID),
		trace.StringAttribute("path", path),
	)

	logger := kitlog.With(c.logger, "request_id", requestID, "method", method, "path", path)
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Log("event", "http_request.failed", "error", err)
		return nil, transportFailure(err)
	}
	defer resp.Body.Close()

	payload, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, transportFailure(errors.Wrap(err, "failed to read response body"))
	}

	logger.Log(
		"event", "http_request",
		"http_status", resp.StatusCode,
		"http_bytes", len(payload),
		"http_duration", time.Since(started).Seconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseFailure(resp.StatusCode, path, payload)
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return json.RawMessage("null"), nil
	}

	return json.RawMessage(payload), nil
}

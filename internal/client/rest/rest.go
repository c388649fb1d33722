// Package rest implements client.Client against the Foreman and Katello v2
// APIs.
//
// Reads go through a retrying HTTP client; writes use a plain client so a
// POST is never replayed behind the caller's back.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"k8s.io/apimachinery/pkg/util/wait"

	"robottelo/internal/client"
	"robottelo/internal/settings"
	"robottelo/pkg/logging"
)

// Config configures a Client.
type Config struct {
	BaseURL            string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
	RetryMax           int
	RetryWaitMin       time.Duration
	RetryWaitMax       time.Duration
	PollInterval       time.Duration
}

// ConfigFromSettings builds a Config from the server section.
func ConfigFromSettings(s settings.Server) Config {
	return Config{
		BaseURL:            s.URL(),
		Username:           s.AdminUsername,
		Password:           s.AdminPassword,
		InsecureSkipVerify: !s.VerifyCA,
	}
}

// Client talks to one server.
type Client struct {
	cfg    Config
	base   *url.URL
	reads  *retryablehttp.Client
	writes *http.Client
}

var _ client.Client = (*Client)(nil)

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = 5 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test servers use self-signed certs
	}

	reads := retryablehttp.NewClient()
	reads.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	reads.RetryMax = cfg.RetryMax
	reads.RetryWaitMin = cfg.RetryWaitMin
	reads.RetryWaitMax = cfg.RetryWaitMax
	reads.Logger = leveledLogger{}
	// Keep the response so status and body reach the caller.
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		cfg:    cfg,
		base:   base,
		reads:  reads,
		writes: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}, nil
}

// leveledLogger routes retryablehttp's messages to the RESTClient subsystem.
type leveledLogger struct{}

func kv(keysAndValues []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}

func (leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	logging.Warn("RESTClient", "%s%s", msg, kv(keysAndValues))
}
func (leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug("RESTClient", "%s%s", msg, kv(keysAndValues))
}
func (leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	logging.Debug("RESTClient", "%s%s", msg, kv(keysAndValues))
}
func (leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	logging.Warn("RESTClient", "%s%s", msg, kv(keysAndValues))
}

type route struct {
	path string
	// wrap is the Foreman parameter key; Katello endpoints take flat bodies.
	wrap string
}

var routes = map[client.Kind]route{
	client.KindOrganization:         {"/api/v2/organizations", "organization"},
	client.KindLocation:             {"/api/v2/locations", "location"},
	client.KindHost:                 {"/api/v2/hosts", "host"},
	client.KindHostGroup:            {"/api/v2/hostgroups", "hostgroup"},
	client.KindSubnet:               {"/api/v2/subnets", "subnet"},
	client.KindDomain:               {"/api/v2/domains", "domain"},
	client.KindOperatingSystem:      {"/api/v2/operatingsystems", "operatingsystem"},
	client.KindArchitecture:         {"/api/v2/architectures", "architecture"},
	client.KindPartitionTable:       {"/api/v2/ptables", "ptable"},
	client.KindProvisioningTemplate: {"/api/v2/provisioning_templates", "provisioning_template"},
	client.KindComputeResource:      {"/api/v2/compute_resources", "compute_resource"},
	client.KindImage:                {"/api/v2/images", "image"},
	client.KindSmartProxy:           {"/api/v2/smart_proxies", "smart_proxy"},
	client.KindCapsule:              {"/katello/api/v2/capsules", ""},
	client.KindUser:                 {"/api/v2/users", "user"},
	client.KindRole:                 {"/api/v2/roles", "role"},
	client.KindAuthSourceLDAP:       {"/api/v2/auth_source_ldaps", "auth_source_ldap"},
	client.KindSetting:              {"/api/v2/settings", "setting"},
	client.KindLifecycleEnvironment: {"/katello/api/v2/environments", ""},
	client.KindContentView:          {"/katello/api/v2/content_views", ""},
	client.KindContentViewVersion:   {"/katello/api/v2/content_view_versions", ""},
	client.KindProduct:              {"/katello/api/v2/products", ""},
	client.KindRepository:           {"/katello/api/v2/repositories", ""},
	client.KindActivationKey:        {"/katello/api/v2/activation_keys", ""},
	client.KindSyncPlan:             {"/katello/api/v2/sync_plans", ""},
}

func (c *Client) route(kind client.Kind) (route, error) {
	r, ok := routes[kind]
	if !ok {
		return route{}, fmt.Errorf("no API route for kind %q", kind)
	}
	return r, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) Create(ctx context.Context, kind client.Kind, attrs client.Attrs) (*client.Entity, error) {
	r, err := c.route(kind)
	if err != nil {
		return nil, err
	}
	var body any = attrs
	if r.wrap != "" {
		body = map[string]any{r.wrap: attrs}
	}
	out, err := c.write(ctx, http.MethodPost, "create", kind, 0, r.path, body)
	if err != nil {
		return nil, err
	}
	return toEntity(kind, out), nil
}

func (c *Client) Search(ctx context.Context, kind client.Kind, query string) ([]*client.Entity, error) {
	r, err := c.route(kind)
	if err != nil {
		return nil, err
	}
	q := url.Values{"per_page": {"all"}}
	if query != "" {
		q.Set("search", query)
	}
	var page struct {
		Results []map[string]any `json:"results"`
	}
	if err := c.read(ctx, "search", kind, 0, c.url(r.path, q), &page); err != nil {
		return nil, err
	}
	out := make([]*client.Entity, 0, len(page.Results))
	for _, item := range page.Results {
		out = append(out, toEntity(kind, item))
	}
	return out, nil
}

func (c *Client) Read(ctx context.Context, kind client.Kind, id int) (*client.Entity, error) {
	r, err := c.route(kind)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.read(ctx, "read", kind, id, c.url(fmt.Sprintf("%s/%d", r.path, id), nil), &out); err != nil {
		return nil, err
	}
	return toEntity(kind, out), nil
}

func (c *Client) Update(ctx context.Context, kind client.Kind, id int, attrs client.Attrs) (*client.Entity, error) {
	r, err := c.route(kind)
	if err != nil {
		return nil, err
	}
	var body any = attrs
	if r.wrap != "" {
		body = map[string]any{r.wrap: attrs}
	}
	out, err := c.write(ctx, http.MethodPut, "update", kind, id, fmt.Sprintf("%s/%d", r.path, id), body)
	if err != nil {
		return nil, err
	}
	return toEntity(kind, out), nil
}

func (c *Client) Delete(ctx context.Context, kind client.Kind, id int) error {
	r, err := c.route(kind)
	if err != nil {
		return err
	}
	_, err = c.write(ctx, http.MethodDelete, "delete", kind, id, fmt.Sprintf("%s/%d", r.path, id), nil)
	return err
}

// Invoke POSTs to /<kind>/<id>/<action>. Katello answers asynchronous
// actions with a foreman task, which is returned in Result.Task.
func (c *Client) Invoke(ctx context.Context, kind client.Kind, id int, action string, payload client.Attrs) (*client.Result, error) {
	r, err := c.route(kind)
	if err != nil {
		return nil, err
	}
	method := http.MethodPost
	if r.wrap != "" {
		// Foreman member actions are PUT.
		method = http.MethodPut
	}
	var body any
	if payload != nil {
		body = payload
	}
	out, err := c.write(ctx, method, action, kind, id, fmt.Sprintf("%s/%d/%s", r.path, id, action), body)
	if err != nil {
		return nil, err
	}
	res := &client.Result{Attrs: client.Attrs(out)}
	if t := toTask(out); t != nil {
		res.Task = t
	}
	return res, nil
}

// SyncTask polls the foreman task until it reaches a terminal state.
func (c *Client) SyncTask(ctx context.Context, taskID string, timeout time.Duration) (*client.Task, error) {
	var last *client.Task
	target := c.url("/foreman_tasks/api/tasks/"+url.PathEscape(taskID), nil)
	err := wait.PollUntilContextTimeout(ctx, c.cfg.PollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		var out map[string]any
		if err := c.read(ctx, "sync_task", "task", 0, target, &out); err != nil {
			return false, err
		}
		last = toTask(out)
		if last == nil {
			return false, fmt.Errorf("task %s: unexpected response", taskID)
		}
		logging.Debug("RESTClient", "Task %s is %s/%s", taskID, last.State, last.Result)
		return last.Terminal(), nil
	})
	if err != nil {
		if wait.Interrupted(err) {
			return last, fmt.Errorf("task %s did not finish within %s: %w", taskID, timeout, context.DeadlineExceeded)
		}
		return last, err
	}
	if last.Result == client.TaskError {
		return last, &client.RemoteOperationError{Op: "sync_task", Kind: "task",
			Message: fmt.Sprintf("task %s failed: %s", taskID, last.Humanized)}
	}
	return last, nil
}

func (c *Client) read(ctx context.Context, op string, kind client.Kind, id int, target string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	c.decorate(req.Request)
	resp, err := c.reads.Do(req)
	if err != nil {
		return &client.RemoteOperationError{Op: op, Kind: kind, ID: id, Err: err}
	}
	defer resp.Body.Close()
	return c.decode(resp, op, kind, id, out)
}

func (c *Client) write(ctx context.Context, method, op string, kind client.Kind, id int, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, nil), reader)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	logging.Debug("RESTClient", "%s %s", method, path)
	resp, err := c.writes.Do(req)
	if err != nil {
		return nil, &client.RemoteOperationError{Op: op, Kind: kind, ID: id, Err: err}
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := c.decode(resp, op, kind, id, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) decorate(req *http.Request) {
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

func (c *Client) decode(resp *http.Response, op string, kind client.Kind, id int, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &client.RemoteOperationError{Op: op, Kind: kind, ID: id, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		e := &client.RemoteOperationError{Op: op, Kind: kind, ID: id, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		if resp.StatusCode == http.StatusNotFound {
			e.Err = client.ErrNotFound
		}
		return e
	}
	if len(bytes.TrimSpace(raw)) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &client.RemoteOperationError{Op: op, Kind: kind, ID: id, StatusCode: resp.StatusCode,
			Message: "invalid JSON response", Err: err}
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message     string   `json:"message"`
			FullMessage []string `json:"full_messages"`
		} `json:"error"`
		DisplayMessage string `json:"displayMessage"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.DisplayMessage != "":
			return body.DisplayMessage
		case len(body.Error.FullMessage) > 0:
			return strings.Join(body.Error.FullMessage, "; ")
		case body.Error.Message != "":
			return body.Error.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func toEntity(kind client.Kind, attrs map[string]any) *client.Entity {
	e := &client.Entity{Kind: kind, Attrs: client.Attrs(attrs)}
	switch id := attrs["id"].(type) {
	case float64:
		e.ID = int(id)
		e.Attrs["id"] = e.ID
	case string:
		e.ID, _ = strconv.Atoi(id)
	}
	return e
}

// toTask recognises a foreman task body: a string id plus a state.
func toTask(body map[string]any) *client.Task {
	if nested, ok := body["task"].(map[string]any); ok {
		body = nested
	}
	id, ok := body["id"].(string)
	state, ok2 := body["state"].(string)
	if !ok || !ok2 {
		return nil
	}
	t := &client.Task{ID: id, State: client.TaskState(state)}
	if r, ok := body["result"].(string); ok {
		t.Result = client.TaskResult(r)
	}
	if h, ok := body["humanized"].(map[string]any); ok {
		if a, ok := h["action"].(string); ok {
			t.Humanized = a
		}
	}
	if out, ok := body["output"].(map[string]any); ok {
		t.Output = client.Attrs(out)
	}
	return t
}

// IsNotFound is a convenience for callers that only import rest.
func IsNotFound(err error) bool {
	return errors.Is(err, client.ErrNotFound)
}

// Package memory is an in-process stand-in for a Satellite server. It keeps
// entities in maps, answers scoped-search style queries and completes tasks
// immediately or after a configured delay.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"

	"robottelo/internal/client"
)

// Action records one Invoke call.
type Action struct {
	Kind    client.Kind
	ID      int
	Action  string
	Payload client.Attrs
}

// ActionHandler runs the server-side effect of an action. It may mutate the
// entity attributes in place.
type ActionHandler func(entity client.Attrs, payload client.Attrs) (client.Attrs, error)

// ExecHandler produces the result of a command.
type ExecHandler func(command string) *client.ExecResult

type failure struct {
	remaining int
	err       error
}

type task struct {
	client.Task
	doneAt time.Time
}

// Server is safe for concurrent use.
type Server struct {
	mu        sync.Mutex
	nextID    int
	entities  map[client.Kind]map[int]client.Attrs
	tasks     map[string]*task
	actions   []Action
	handlers  map[string]ActionHandler
	failures  map[string]*failure
	calls     map[string]int
	execs     []string
	exec      ExecHandler
	taskDelay time.Duration
	poll      time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithTaskDelay makes asynchronous tasks finish after d.
func WithTaskDelay(d time.Duration) Option {
	return func(s *Server) { s.taskDelay = d }
}

// WithExecHandler installs the command handler. The default runs nothing
// and reports status 0.
func WithExecHandler(h ExecHandler) Option {
	return func(s *Server) { s.exec = h }
}

// New returns an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		entities: make(map[client.Kind]map[int]client.Attrs),
		tasks:    make(map[string]*task),
		handlers: make(map[string]ActionHandler),
		failures: make(map[string]*failure),
		calls:    make(map[string]int),
		poll:     5 * time.Millisecond,
	}
	s.handlers["publish"] = publish
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ client.Client = (*Server)(nil)
var _ client.Executor = (*Server)(nil)

func failureKey(op string, kind client.Kind) string {
	return op + "/" + string(kind)
}

// SetFailure makes the next call of op on kind return err. An empty kind
// matches every kind.
func (s *Server) SetFailure(op string, kind client.Kind, err error) {
	s.FailTimes(op, kind, 1, err)
}

// FailTimes makes the next n calls of op on kind return err.
func (s *Server) FailTimes(op string, kind client.Kind, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failureKey(op, kind)] = &failure{remaining: n, err: err}
}

// HandleAction registers the effect of an Invoke action.
func (s *Server) HandleAction(action string, h ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[action] = h
}

// Calls returns how often op was called.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Actions returns the recorded Invoke calls.
func (s *Server) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

// Commands returns the executed commands.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

// Count returns the number of live entities of a kind.
func (s *Server) Count(kind client.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities[kind])
}

// Seed creates an entity without going through call accounting.
func (s *Server) Seed(kind client.Kind, attrs client.Attrs) *client.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(kind, attrs)
}

// must be called with mu held
func (s *Server) enter(op string, kind client.Kind) error {
	s.calls[op]++
	for _, key := range []string{failureKey(op, kind), failureKey(op, "")} {
		if f, ok := s.failures[key]; ok && f.remaining > 0 {
			f.remaining--
			return f.err
		}
	}
	return nil
}

func (s *Server) create(kind client.Kind, attrs client.Attrs) *client.Entity {
	s.nextID++
	stored := attrs.Clone()
	stored["id"] = s.nextID
	if s.entities[kind] == nil {
		s.entities[kind] = make(map[int]client.Attrs)
	}
	s.entities[kind][s.nextID] = stored
	return &client.Entity{Kind: kind, ID: s.nextID, Attrs: stored.Clone()}
}

func (s *Server) Create(ctx context.Context, kind client.Kind, attrs client.Attrs) (*client.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("create", kind); err != nil {
		return nil, err
	}
	if name, ok := attrs["name"].(string); ok && name != "" && s.nameTaken(kind, name) {
		return nil, &client.RemoteOperationError{Op: "create", Kind: kind, StatusCode: 422,
			Message: fmt.Sprintf("Name has already been taken: %s", name)}
	}
	return s.create(kind, attrs), nil
}

func (s *Server) nameTaken(kind client.Kind, name string) bool {
	for _, e := range s.entities[kind] {
		if e["name"] == name {
			return true
		}
	}
	return false
}

func (s *Server) Search(ctx context.Context, kind client.Kind, query string) ([]*client.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("search", kind); err != nil {
		return nil, err
	}
	terms, err := parseQuery(query)
	if err != nil {
		return nil, &client.RemoteOperationError{Op: "search", Kind: kind, StatusCode: 400, Message: err.Error()}
	}
	ids := make([]int, 0, len(s.entities[kind]))
	for id, attrs := range s.entities[kind] {
		if matches(attrs, terms) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]*client.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, &client.Entity{Kind: kind, ID: id, Attrs: s.entities[kind][id].Clone()})
	}
	return out, nil
}

func (s *Server) Read(ctx context.Context, kind client.Kind, id int) (*client.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("read", kind); err != nil {
		return nil, err
	}
	attrs, ok := s.entities[kind][id]
	if !ok {
		return nil, client.NotFound("read", kind, id)
	}
	return &client.Entity{Kind: kind, ID: id, Attrs: attrs.Clone()}, nil
}

func (s *Server) Update(ctx context.Context, kind client.Kind, id int, attrs client.Attrs) (*client.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("update", kind); err != nil {
		return nil, err
	}
	stored, ok := s.entities[kind][id]
	if !ok {
		return nil, client.NotFound("update", kind, id)
	}
	for k, v := range attrs {
		if k == "id" {
			continue
		}
		stored[k] = v
	}
	return &client.Entity{Kind: kind, ID: id, Attrs: stored.Clone()}, nil
}

func (s *Server) Delete(ctx context.Context, kind client.Kind, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("delete", kind); err != nil {
		return err
	}
	if _, ok := s.entities[kind][id]; !ok {
		return client.NotFound("delete", kind, id)
	}
	delete(s.entities[kind], id)
	return nil
}

func (s *Server) Invoke(ctx context.Context, kind client.Kind, id int, action string, payload client.Attrs) (*client.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("invoke", kind); err != nil {
		return nil, err
	}
	stored, ok := s.entities[kind][id]
	if !ok {
		return nil, client.NotFound(action, kind, id)
	}
	s.actions = append(s.actions, Action{Kind: kind, ID: id, Action: action, Payload: payload.Clone()})

	t := &task{Task: client.Task{
		ID:        uuid.NewString(),
		State:     client.TaskRunning,
		Result:    client.TaskPending,
		Humanized: fmt.Sprintf("%s %s %d", action, kind, id),
	}}
	out := client.Attrs{}
	if h, ok := s.handlers[action]; ok {
		res, err := h(stored, payload)
		if err != nil {
			t.Result = client.TaskError
			t.Humanized = err.Error()
		}
		out = res
	}
	t.Output = out
	if t.Result == client.TaskPending {
		t.Result = client.TaskSuccess
	}
	t.doneAt = time.Now().Add(s.taskDelay)
	if s.taskDelay <= 0 {
		t.State = client.TaskStopped
	}
	s.tasks[t.ID] = t
	snapshot := t.Task
	return &client.Result{Task: &snapshot, Attrs: out}, nil
}

func (s *Server) taskState(id string) (*client.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	if t.State == client.TaskRunning && !time.Now().Before(t.doneAt) {
		t.State = client.TaskStopped
	}
	snapshot := t.Task
	return &snapshot, true
}

func (s *Server) SyncTask(ctx context.Context, taskID string, timeout time.Duration) (*client.Task, error) {
	s.mu.Lock()
	s.calls["sync_task"]++
	s.mu.Unlock()

	var last *client.Task
	err := wait.PollUntilContextTimeout(ctx, s.poll, timeout, true, func(ctx context.Context) (bool, error) {
		t, ok := s.taskState(taskID)
		if !ok {
			return false, &client.RemoteOperationError{Op: "sync_task", Kind: "task", StatusCode: 404,
				Message: fmt.Sprintf("task %s", taskID), Err: client.ErrNotFound}
		}
		last = t
		return t.Terminal(), nil
	})
	if err != nil {
		if wait.Interrupted(err) {
			return last, fmt.Errorf("task %s did not finish within %s: %w", taskID, timeout, context.DeadlineExceeded)
		}
		return last, err
	}
	return last, nil
}

func (s *Server) Exec(ctx context.Context, command string) (*client.ExecResult, error) {
	s.mu.Lock()
	s.execs = append(s.execs, command)
	h := s.exec
	err := s.enter("exec", "")
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if h == nil {
		return &client.ExecResult{}, nil
	}
	return h(command), nil
}

// publish creates a new content view version.
func publish(entity client.Attrs, _ client.Attrs) (client.Attrs, error) {
	n, _ := entity["version_count"].(int)
	n++
	entity["version_count"] = n
	return client.Attrs{"version": fmt.Sprintf("%d.0", n)}, nil
}

type term struct {
	field string
	op    string
	value string
}

// parseQuery understands `field = value` and `field ~ value` joined by
// "and". Values may be quoted.
func parseQuery(q string) ([]term, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	var terms []term
	for _, part := range splitAnd(q) {
		var t term
		switch {
		case strings.Contains(part, "!="):
			t.op = "!="
		case strings.Contains(part, "="):
			t.op = "="
		case strings.Contains(part, "~"):
			t.op = "~"
		default:
			return nil, fmt.Errorf("cannot parse search term %q", part)
		}
		field, value, _ := strings.Cut(part, t.op)
		t.field = strings.TrimSpace(field)
		t.value = strings.TrimSpace(value)
		if uq, err := strconv.Unquote(t.value); err == nil {
			t.value = uq
		}
		if t.field == "" {
			return nil, fmt.Errorf("cannot parse search term %q", part)
		}
		terms = append(terms, t)
	}
	return terms, nil
}

func splitAnd(q string) []string {
	var parts []string
	fields := strings.Fields(q)
	var cur []string
	for _, f := range fields {
		if strings.EqualFold(f, "and") {
			parts = append(parts, strings.Join(cur, " "))
			cur = nil
			continue
		}
		cur = append(cur, f)
	}
	return append(parts, strings.Join(cur, " "))
}

func matches(attrs client.Attrs, terms []term) bool {
	for _, t := range terms {
		v, ok := attrs[t.field]
		got := fmt.Sprint(v)
		switch t.op {
		case "=":
			if !ok || got != t.value {
				return false
			}
		case "!=":
			if ok && got == t.value {
				return false
			}
		case "~":
			if !ok || !strings.Contains(strings.ToLower(got), strings.ToLower(t.value)) {
				return false
			}
		}
	}
	return true
}

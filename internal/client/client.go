package client

import (
	"context"
	"fmt"
	"time"
)

// Kind names a server-side entity type.
type Kind string

const (
	KindOrganization         Kind = "organization"
	KindLocation             Kind = "location"
	KindLifecycleEnvironment Kind = "lifecycle_environment"
	KindContentView          Kind = "content_view"
	KindContentViewVersion   Kind = "content_view_version"
	KindProduct              Kind = "product"
	KindRepository           Kind = "repository"
	KindActivationKey        Kind = "activation_key"
	KindHost                 Kind = "host"
	KindHostGroup            Kind = "hostgroup"
	KindSubnet               Kind = "subnet"
	KindDomain               Kind = "domain"
	KindOperatingSystem      Kind = "operatingsystem"
	KindArchitecture         Kind = "architecture"
	KindPartitionTable       Kind = "ptable"
	KindProvisioningTemplate Kind = "provisioning_template"
	KindComputeResource      Kind = "compute_resource"
	KindImage                Kind = "image"
	KindSmartProxy           Kind = "smart_proxy"
	KindCapsule              Kind = "capsule"
	KindUser                 Kind = "user"
	KindRole                 Kind = "role"
	KindAuthSourceLDAP       Kind = "auth_source_ldap"
	KindSetting              Kind = "setting"
	KindManifest             Kind = "manifest"
	KindSyncPlan             Kind = "sync_plan"
)

// Kinds lists every known kind.
var Kinds = []Kind{
	KindOrganization, KindLocation, KindLifecycleEnvironment, KindContentView,
	KindContentViewVersion, KindProduct, KindRepository, KindActivationKey,
	KindHost, KindHostGroup, KindSubnet, KindDomain, KindOperatingSystem,
	KindArchitecture, KindPartitionTable, KindProvisioningTemplate,
	KindComputeResource, KindImage, KindSmartProxy, KindCapsule, KindUser,
	KindRole, KindAuthSourceLDAP, KindSetting, KindManifest, KindSyncPlan,
}

// Attrs are entity fields as the server returns them.
type Attrs map[string]any

// Clone returns a shallow copy.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Entity is a server-side object with a server-assigned identity.
type Entity struct {
	Kind  Kind
	ID    int
	Attrs Attrs
}

// Name returns the "name" attribute, if any.
func (e *Entity) Name() string {
	if e == nil {
		return ""
	}
	s, _ := e.Attrs["name"].(string)
	return s
}

func (e *Entity) String() string {
	if n := e.Name(); n != "" {
		return fmt.Sprintf("%s/%d (%s)", e.Kind, e.ID, n)
	}
	return fmt.Sprintf("%s/%d", e.Kind, e.ID)
}

// TaskState is the lifecycle state of an asynchronous server task.
type TaskState string

const (
	TaskPlanned TaskState = "planned"
	TaskRunning TaskState = "running"
	TaskPaused  TaskState = "paused"
	TaskStopped TaskState = "stopped"
)

// TaskResult is the outcome of a finished task.
type TaskResult string

const (
	TaskPending TaskResult = "pending"
	TaskSuccess TaskResult = "success"
	TaskWarning TaskResult = "warning"
	TaskError   TaskResult = "error"
)

// Task is a server-side asynchronous job.
type Task struct {
	ID        string
	State     TaskState
	Result    TaskResult
	Humanized string
	Output    Attrs
}

// Terminal reports whether the task will not change state any more.
func (t *Task) Terminal() bool {
	return t.State == TaskStopped || t.State == TaskPaused
}

// Succeeded reports a terminal task without error.
func (t *Task) Succeeded() bool {
	return t.Terminal() && (t.Result == TaskSuccess || t.Result == TaskWarning)
}

// Result is what Invoke returns. Task is set when the action runs
// asynchronously and must be awaited with SyncTask.
type Result struct {
	Task  *Task
	Attrs Attrs
}

// ExecResult is the outcome of a command on the server host. A non-zero
// Status is a result, not an error.
type ExecResult struct {
	Status int
	Stdout string
	Stderr string
}

// Client is the remote entity handle.
type Client interface {
	Create(ctx context.Context, kind Kind, attrs Attrs) (*Entity, error)
	Search(ctx context.Context, kind Kind, query string) ([]*Entity, error)
	Read(ctx context.Context, kind Kind, id int) (*Entity, error)
	Update(ctx context.Context, kind Kind, id int, attrs Attrs) (*Entity, error)
	Delete(ctx context.Context, kind Kind, id int) error
	Invoke(ctx context.Context, kind Kind, id int, action string, payload Attrs) (*Result, error)
	SyncTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error)
}

// Executor runs shell commands on the server host.
type Executor interface {
	Exec(ctx context.Context, command string) (*ExecResult, error)
}

// Server bundles the handles for one Satellite. It is the artifact of the
// target_sat fixture.
type Server struct {
	Hostname string
	Client
	Executor
}

// InvokeAndWait calls Invoke and, when the action is asynchronous, waits
// for its task. A task finishing with an error result is returned as a
// RemoteOperationError.
func InvokeAndWait(ctx context.Context, c Client, kind Kind, id int, action string, payload Attrs, timeout time.Duration) (*Result, error) {
	res, err := c.Invoke(ctx, kind, id, action, payload)
	if err != nil {
		return nil, err
	}
	if res.Task == nil || res.Task.Terminal() {
		return res, taskError(kind, id, action, res.Task)
	}
	task, err := c.SyncTask(ctx, res.Task.ID, timeout)
	if err != nil {
		return nil, err
	}
	res.Task = task
	return res, taskError(kind, id, action, task)
}

func taskError(kind Kind, id int, action string, task *Task) error {
	if task == nil || task.Succeeded() {
		return nil
	}
	return &RemoteOperationError{
		Op:      action,
		Kind:    kind,
		ID:      id,
		Message: fmt.Sprintf("task %s finished with %s: %s", task.ID, task.Result, task.Humanized),
	}
}

package plan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"robottelo/internal/client"
	"robottelo/internal/runner"
	"robottelo/internal/template"
	"robottelo/pkg/logging"
)

// DefaultTaskTimeout bounds invoke steps without a timeout when the
// settings carry no robottelo.setup_timeout.
const DefaultTaskTimeout = 10 * time.Minute

// Names step ids cannot take, they are part of the template data.
var reserved = []string{"params", "item", "pre_upgrade", "result"}

// stepRunner runs the steps of one test item against the target server.
// data holds fixture views, parameters and the results of finished steps.
type stepRunner struct {
	ctx    context.Context
	engine *template.Engine
	sat    *client.Server
	t      *runner.T
	data   map[string]any
}

func (r *stepRunner) taskTimeout(step Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	if s := r.t.Settings(); s != nil {
		if d := s.Robottelo().SetupTimeoutDuration(); d > 0 {
			return d
		}
	}
	return DefaultTaskTimeout
}

// run executes step until its expectation holds or retries run out.
func (r *stepRunner) run(step Step) error {
	attempts, delay := 1, time.Duration(0)
	if step.Retry != nil {
		attempts += step.Retry.Count
		delay = step.Retry.Delay
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.t.Logf("retrying step %s (%d/%d): %v", step.ID, i, attempts-1, err)
			select {
			case <-r.ctx.Done():
				return fmt.Errorf("step %s: %w", step.ID, context.Cause(r.ctx))
			case <-time.After(delay):
			}
		}
		var result map[string]any
		result, err = r.attempt(step)
		if err == nil {
			r.data[step.ID] = result
			return nil
		}
		if r.ctx.Err() != nil {
			break
		}
	}
	return err
}

func (r *stepRunner) attempt(step Step) (map[string]any, error) {
	ctx := r.ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	rendered, err := r.engine.Replace(step.Args, r.data)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	args, _ := rendered.(map[string]any)

	start := time.Now()
	result, callErr := r.call(ctx, step, args)
	logging.Debug("Plan", "%s: step %s %s %s took %v", r.t.ID(), step.ID, step.Action, step.Kind, time.Since(start))

	if err := r.check(step, result, callErr); err != nil {
		return nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	return result, nil
}

func (r *stepRunner) call(ctx context.Context, step Step, args map[string]any) (map[string]any, error) {
	kind := client.Kind(step.Kind)
	switch step.Action {
	case ActionCreate:
		e, err := r.sat.Create(ctx, kind, client.Attrs(args))
		if err != nil {
			return nil, err
		}
		return entityView(e), nil

	case ActionRead:
		id, err := toInt(args["id"])
		if err != nil {
			return nil, err
		}
		e, err := r.sat.Read(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		return entityView(e), nil

	case ActionSearch:
		query := ""
		if q, ok := args["query"]; ok && q != nil {
			query = fmt.Sprint(q)
		}
		found, err := r.sat.Search(ctx, kind, query)
		if err != nil {
			return nil, err
		}
		results := lo.Map(found, func(e *client.Entity, _ int) any { return entityView(e) })
		return map[string]any{"count": len(found), "results": results}, nil

	case ActionUpdate:
		id, err := toInt(args["id"])
		if err != nil {
			return nil, err
		}
		e, err := r.sat.Update(ctx, kind, id, client.Attrs(lo.OmitByKeys(args, []string{"id"})))
		if err != nil {
			return nil, err
		}
		return entityView(e), nil

	case ActionDelete:
		id, err := toInt(args["id"])
		if err != nil {
			return nil, err
		}
		if err := r.sat.Delete(ctx, kind, id); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true, "id": id}, nil

	case ActionInvoke:
		id, err := toInt(args["id"])
		if err != nil {
			return nil, err
		}
		payload, _ := args["payload"].(map[string]any)
		res, err := client.InvokeAndWait(ctx, r.sat, kind, id, fmt.Sprint(args["action"]), client.Attrs(payload), r.taskTimeout(step))
		return invokeView(res), err

	case ActionExec:
		if r.sat.Executor == nil {
			return nil, errors.New("the target server has no command executor")
		}
		out, err := r.sat.Exec(ctx, fmt.Sprint(args["command"]))
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": out.Status, "stdout": out.Stdout, "stderr": out.Stderr}, nil

	case ActionSave:
		if err := r.t.SaveData(args); err != nil {
			return nil, err
		}
		return args, nil
	}
	return nil, fmt.Errorf("unknown action %q", step.Action)
}

func invokeView(res *client.Result) map[string]any {
	if res == nil {
		return nil
	}
	out := map[string]any{"attrs": map[string]any(res.Attrs)}
	if task := res.Task; task != nil {
		out["task"] = map[string]any{
			"id":        task.ID,
			"state":     string(task.State),
			"result":    string(task.Result),
			"humanized": task.Humanized,
			"output":    map[string]any(task.Output),
		}
	}
	return out
}

// check compares a step outcome with its expectation.
func (r *stepRunner) check(step Step, result map[string]any, callErr error) error {
	exp := step.Expected
	if !exp.success() {
		if callErr == nil {
			return errors.New("expected the step to fail but it succeeded")
		}
		for _, s := range exp.ErrorContains {
			if !strings.Contains(callErr.Error(), s) {
				return fmt.Errorf("error %q does not contain %q", callErr.Error(), s)
			}
		}
		return nil
	}
	if callErr != nil {
		return callErr
	}

	data := template.MergeContexts(r.data, map[string]any{"result": result})
	paths := make([]string, 0, len(exp.Fields))
	for path := range exp.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		want, err := r.engine.Replace(exp.Fields[path], data)
		if err != nil {
			return fmt.Errorf("expected field %s: %w", path, err)
		}
		got, err := r.engine.Replace("{{ .result."+path+" }}", data)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return fmt.Errorf("field %s: got %v, want %v", path, got, want)
		}
	}

	if exp.Count != nil {
		if got, _ := result["count"].(int); got != *exp.Count {
			return fmt.Errorf("count: got %v, want %d", result["count"], *exp.Count)
		}
	}
	if exp.Status != nil {
		if got, _ := result["status"].(int); got != *exp.Status {
			return fmt.Errorf("exit status: got %v, want %d", result["status"], *exp.Status)
		}
	}
	stdout, _ := result["stdout"].(string)
	for _, s := range exp.StdoutContains {
		if !strings.Contains(stdout, s) {
			return fmt.Errorf("stdout does not contain %q", s)
		}
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("id %v is not an integer", v)
}

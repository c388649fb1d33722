package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robottelo/internal/client"
)

func TestCreateThenRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	attrs := client.Attrs{"name": "org1", "label": "org1_label", "description": "d"}

	created, err := s.Create(ctx, client.KindOrganization, attrs)
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := s.Read(ctx, client.KindOrganization, created.ID)
	require.NoError(t, err)
	for k, v := range attrs {
		assert.Equal(t, v, got.Attrs[k], "field %s", k)
	}
	assert.Equal(t, created.ID, got.Attrs["id"], "server adds its own fields")
}

func TestUpdateThenRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	created, err := s.Create(ctx, client.KindLocation, client.Attrs{"name": "loc", "description": "old"})
	require.NoError(t, err)

	_, err = s.Update(ctx, client.KindLocation, created.ID, client.Attrs{"description": "new", "title": "Loc"})
	require.NoError(t, err)

	got, err := s.Read(ctx, client.KindLocation, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "loc", got.Attrs["name"])
	assert.Equal(t, "new", got.Attrs["description"])
	assert.Equal(t, "Loc", got.Attrs["title"])
}

func TestDeleteThenRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	created, err := s.Create(ctx, client.KindProduct, client.Attrs{"name": "p"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, client.KindProduct, created.ID))
	_, err = s.Read(ctx, client.KindProduct, created.ID)
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, client.KindProduct, created.ID), client.ErrNotFound)
}

func TestReturnedEntitiesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	created, err := s.Create(ctx, client.KindOrganization, client.Attrs{"name": "org"})
	require.NoError(t, err)
	created.Attrs["name"] = "mutated"

	got, err := s.Read(ctx, client.KindOrganization, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "org", got.Attrs["name"])
}

func TestCreateDuplicateName(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Create(ctx, client.KindOrganization, client.Attrs{"name": "org"})
	require.NoError(t, err)
	_, err = s.Create(ctx, client.KindOrganization, client.Attrs{"name": "org"})
	var remote *client.RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 422, remote.StatusCode)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed(client.KindRepository, client.Attrs{"name": "rhel-9-baseos", "content_type": "yum", "product_id": 1})
	s.Seed(client.KindRepository, client.Attrs{"name": "rhel-9-appstream", "content_type": "yum", "product_id": 1})
	s.Seed(client.KindRepository, client.Attrs{"name": "busybox", "content_type": "docker", "product_id": 2})

	tests := []struct {
		query string
		want  []string
	}{
		{query: "", want: []string{"rhel-9-baseos", "rhel-9-appstream", "busybox"}},
		{query: "content_type = yum", want: []string{"rhel-9-baseos", "rhel-9-appstream"}},
		{query: `name = "busybox"`, want: []string{"busybox"}},
		{query: "name ~ RHEL-9 and product_id = 1", want: []string{"rhel-9-baseos", "rhel-9-appstream"}},
		{query: "content_type != yum", want: []string{"busybox"}},
		{query: "name = nothing", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			found, err := s.Search(ctx, client.KindRepository, tt.query)
			require.NoError(t, err)
			names := []string{}
			for _, e := range found {
				names = append(names, e.Name())
			}
			assert.Equal(t, tt.want, names)
		})
	}

	_, err := s.Search(ctx, client.KindRepository, "nonsense")
	assert.Error(t, err)
}

func TestInvokeRecordsActionAndTask(t *testing.T) {
	ctx := context.Background()
	s := New()
	cv := s.Seed(client.KindContentView, client.Attrs{"name": "cv"})

	res, err := s.Invoke(ctx, client.KindContentView, cv.ID, "publish", client.Attrs{"description": "first"})
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	assert.True(t, res.Task.Succeeded())
	assert.Equal(t, "1.0", res.Attrs["version"])

	got, err := s.Read(ctx, client.KindContentView, cv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attrs["version_count"])

	actions := s.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "publish", actions[0].Action)
	assert.Equal(t, "first", actions[0].Payload["description"])
}

func TestSyncTaskTimeout(t *testing.T) {
	ctx := context.Background()
	s := New(WithTaskDelay(time.Hour))
	repo := s.Seed(client.KindRepository, client.Attrs{"name": "repo"})

	res, err := s.Invoke(ctx, client.KindRepository, repo.ID, "sync", nil)
	require.NoError(t, err)
	assert.False(t, res.Task.Terminal())

	_, err = s.SyncTask(ctx, res.Task.ID, 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSyncTaskUnknown(t *testing.T) {
	_, err := New().SyncTask(context.Background(), "missing", time.Second)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestExec(t *testing.T) {
	ctx := context.Background()
	s := New(WithExecHandler(func(cmd string) *client.ExecResult {
		if cmd == "hammer ping" {
			return &client.ExecResult{Status: 0, Stdout: "database: ok"}
		}
		return &client.ExecResult{Status: 127, Stderr: "command not found"}
	}))

	res, err := s.Exec(ctx, "hammer ping")
	require.NoError(t, err)
	assert.Equal(t, "database: ok", res.Stdout)

	res, err = s.Exec(ctx, "bogus")
	require.NoError(t, err)
	assert.Equal(t, 127, res.Status)
	assert.Equal(t, []string{"hammer ping", "bogus"}, s.Commands())

	s.SetFailure("exec", "", errors.New("connection reset"))
	_, err = s.Exec(ctx, "hammer ping")
	assert.Error(t, err)
}

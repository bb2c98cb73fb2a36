package workload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
)

type fakeGroup struct {
	name       string
	clients    []ClientDescription
	duration   time.Duration
	requestErr error
	waitErr    error
	requested  []RequestSpec
	finished   atomic.Bool
	closed     atomic.Bool
}

func (g *fakeGroup) Name() string                 { return g.name }
func (g *fakeGroup) Clients() []ClientDescription { return g.clients }

func (g *fakeGroup) Request(_ context.Context, spec RequestSpec) (Handle, error) {
	if g.requestErr != nil {
		return nil, g.requestErr
	}
	g.requested = append(g.requested, spec)
	return g, nil
}

func (g *fakeGroup) Wait() (Result, error) {
	time.Sleep(g.duration)
	g.finished.Store(true)
	return Result{Group: g.name, Requests: 1, Success: 1, StatusCodes: map[string]int{"200": 1}}, g.waitErr
}

func (g *fakeGroup) Close() error {
	g.closed.Store(true)
	return nil
}

type fakeApplication struct {
	group    *fakeGroup
	spawnErr error
	configs  []GroupConfig
}

func (a *fakeApplication) Name() string { return "fake" }

func (a *fakeApplication) SpawnGroup(_ context.Context, config GroupConfig, _ Environment) (ClientGroup, error) {
	a.configs = append(a.configs, config)
	if a.spawnErr != nil {
		return nil, a.spawnErr
	}
	return a.group, nil
}

func (a *fakeApplication) Container(podName string, image string, _ v1.ResourceList) v1.Container {
	return v1.Container{Name: podName, Image: image}
}

func withDriver(t *testing.T, action func(driver *Driver, db *miniredis.Miniredis)) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	action(NewDriver(client, nil, configuration.WorkloadConfiguration{SpawnWait: time.Millisecond}), db)
}

func TestDriver_SpawnGroup(t *testing.T) {
	withDriver(t, func(driver *Driver, db *miniredis.Miniredis) {
		app := &fakeApplication{group: &fakeGroup{name: "fake-zone-a"}}

		group, err := driver.SpawnGroup(context.Background(), app, GroupConfig{Clients: 2, Zone: "zone-a", Function: "fake"})

		assert.NoError(t, err)
		assert.Equal(t, app.group, group)
		assert.Equal(t, []GroupConfig{{Clients: 2, Zone: "zone-a", Function: "fake"}}, app.configs)
	})
}

func TestDriver_SpawnGroup_WrapsFailures(t *testing.T) {
	withDriver(t, func(driver *Driver, db *miniredis.Miniredis) {
		app := &fakeApplication{spawnErr: fmt.Errorf("galileo unavailable")}

		group, err := driver.SpawnGroup(context.Background(), app, GroupConfig{Clients: 2, Zone: "zone-a", Function: "fake"})

		assert.Nil(t, group)
		assert.Equal(t, "workload", experimenterrors.Kind(err))
		assert.Contains(t, err.Error(), "fake-zone-a")
	})
}

func TestDriver_LoadProfiles(t *testing.T) {
	withDriver(t, func(driver *Driver, db *miniredis.Miniredis) {
		group := &fakeGroup{name: "g", clients: []ClientDescription{{Id: "client-0"}, {Id: "client-1"}}}
		first := writeFile(t, "first.json", `[0, 1]`)
		second := writeFile(t, "second.txt", "0.25\n0\n0\n")

		require.NoError(t, driver.LoadProfiles(group, []string{first, second}))

		stored, err := db.List("client-1")
		require.NoError(t, err)
		assert.Len(t, stored, 3)
		assert.NotContains(t, stored, "0")

		intervals, err := driver.env.Queue.Intervals("client-0")
		assert.NoError(t, err)
		assert.Equal(t, []float64{1e-11, 1}, intervals)
	})
}

func TestDriver_LoadProfiles_OneProfilePerClient(t *testing.T) {
	withDriver(t, func(driver *Driver, db *miniredis.Miniredis) {
		group := &fakeGroup{name: "g", clients: []ClientDescription{{Id: "client-0"}, {Id: "client-1"}}}

		err := driver.LoadProfiles(group, []string{writeFile(t, "p.json", `[1]`)})
		assert.Equal(t, "invalid_argument", experimenterrors.Kind(err))

		err = driver.LoadProfiles(group, []string{filepath.Join(t.TempDir(), "a"), filepath.Join(t.TempDir(), "b")})
		assert.Equal(t, "workload", experimenterrors.Kind(err))
	})
}

func TestDriver_Requests_ClosesGroup(t *testing.T) {
	withDriver(t, func(driver *Driver, db *miniredis.Miniredis) {
		group := &fakeGroup{name: "g"}

		err := driver.Requests(group, Synthetic(10, 0.5))(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, []RequestSpec{{N: 10, Interarrival: 500 * time.Millisecond}}, group.requested)
		assert.True(t, group.finished.Load())
		assert.True(t, group.closed.Load())
	})
}

func TestDriver_Requests_ClosesGroupOnFailure(t *testing.T) {
	withDriver(t, func(driver *Driver, db *miniredis.Miniredis) {
		group := &fakeGroup{name: "g", requestErr: &experimenterrors.ErrWorkload{Group: "g", Message: "no route"}}

		err := driver.Requests(group, Prerecorded())(context.Background())

		assert.Equal(t, "workload", experimenterrors.Kind(err))
		assert.True(t, group.closed.Load())
	})
}

func TestRunAll_WaitsForEveryGroup(t *testing.T) {
	withDriver(t, func(driver *Driver, db *miniredis.Miniredis) {
		slow := &fakeGroup{name: "slow", duration: 50 * time.Millisecond}
		fast := &fakeGroup{name: "fast"}
		failing := &fakeGroup{name: "failing", waitErr: &experimenterrors.ErrWorkload{Group: "failing"}}

		err := RunAll(context.Background(),
			driver.Requests(slow, Prerecorded()),
			driver.Requests(fast, Prerecorded()),
			driver.Requests(failing, Prerecorded()),
		)

		assert.Equal(t, "workload", experimenterrors.Kind(err))
		for _, group := range []*fakeGroup{slow, fast, failing} {
			assert.True(t, group.finished.Load(), group.name)
			assert.True(t, group.closed.Load(), group.name)
		}
	})
}

func TestRunAll_ReportsPanickingGroup(t *testing.T) {
	finished := &atomic.Bool{}

	err := RunAll(context.Background(),
		func(context.Context) error { panic("client crashed") },
		func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	)

	assert.Equal(t, "workload", experimenterrors.Kind(err))
	assert.Contains(t, err.Error(), "client crashed")
	assert.True(t, finished.Load())
}

func TestRunAll_RunsGroupsConcurrently(t *testing.T) {
	groups := make([]RequestsFunc, 5)
	for i := range groups {
		groups[i] = func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		}
	}

	start := time.Now()
	assert.NoError(t, RunAll(context.Background(), groups...))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.NoError(t, RunAll(context.Background()))
}

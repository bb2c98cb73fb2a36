package workload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/routing"
)

type recordingServer struct {
	*httptest.Server
	mutex    sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	clients  map[string]int
	status   int
}

func newRecordingServer(t *testing.T) *recordingServer {
	s := &recordingServer{clients: map[string]int{}, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mutex.Lock()
		s.requests = append(s.requests, r)
		s.bodies = append(s.bodies, body)
		s.clients[r.Header.Get("X-Client-Id")]++
		status := s.status
		s.mutex.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *recordingServer) host() string {
	return s.Listener.Addr().String()
}

func (s *recordingServer) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.requests)
}

func (s *recordingServer) requestsOf(clientId string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.clients[clientId]
}

func (s *recordingServer) request(i int) (*http.Request, []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.requests[i], s.bodies[i]
}

func TestIntervalPacer(t *testing.T) {
	pacer := newIntervalPacer([]float64{0.5, 1e-11, 1})

	wait, stop := pacer.Pace(0, 0)
	assert.False(t, stop)
	assert.Equal(t, 500*time.Millisecond, wait)

	wait, stop = pacer.Pace(500*time.Millisecond, 1)
	assert.False(t, stop)
	assert.Equal(t, time.Duration(0), wait)

	wait, stop = pacer.Pace(600*time.Millisecond, 2)
	assert.False(t, stop)
	assert.Equal(t, 900*time.Millisecond, wait)

	_, stop = pacer.Pace(2*time.Second, 3)
	assert.True(t, stop)

	assert.Equal(t, float64(0), pacer.Rate(0))
	assert.Equal(t, float64(2), pacer.Rate(time.Second))
}

func TestHttpClientGroup_Synthetic(t *testing.T) {
	server := newRecordingServer(t)
	group, err := NewEcho().SpawnGroup(context.Background(), GroupConfig{Clients: 2, Zone: "zone-a", Target: server.host()}, Environment{})
	require.NoError(t, err)
	assert.Equal(t, "echo-zone-a", group.Name())
	require.Len(t, group.Clients(), 2)

	handle, err := group.Request(context.Background(), Synthetic(3, 0.001))
	require.NoError(t, err)
	result, err := handle.Wait()

	assert.NoError(t, err)
	assert.Equal(t, uint64(6), result.Requests)
	assert.Equal(t, float64(1), result.Success)
	assert.Equal(t, map[string]int{"200": 6}, result.StatusCodes)
	assert.Equal(t, 6, server.count())
	for _, client := range group.Clients() {
		assert.Equal(t, 3, server.requestsOf(client.Id))
	}
	request, _ := server.request(0)
	assert.Equal(t, "/function/echo", request.URL.Path)
	assert.Equal(t, http.MethodGet, request.Method)
}

func TestHttpClientGroup_Prerecorded(t *testing.T) {
	server := newRecordingServer(t)
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	routes := routing.NewRedisTable(client, "galileo:rtbl")
	require.NoError(t, routes.Set("echo-zone-a", []string{server.host()}, []int{1}))
	env := Environment{Routes: routes, Queue: NewProfileQueue(client), RequestTimeout: time.Second}

	group, err := NewEcho().SpawnGroup(context.Background(), GroupConfig{Clients: 2, Zone: "zone-a"}, env)
	require.NoError(t, err)
	clients := group.Clients()
	require.NoError(t, env.Queue.Replace(clients[0].Id, SanitizeIntervals([]float64{0, 0.001})))
	require.NoError(t, env.Queue.Replace(clients[1].Id, SanitizeIntervals([]float64{0.001, 0, 0.002})))

	handle, err := group.Request(context.Background(), Prerecorded())
	require.NoError(t, err)
	result, err := handle.Wait()

	assert.NoError(t, err)
	assert.Equal(t, uint64(5), result.Requests)
	assert.Equal(t, 2, server.requestsOf(clients[0].Id))
	assert.Equal(t, 3, server.requestsOf(clients[1].Id))

	require.NoError(t, group.Close())
	assert.False(t, db.Exists(clients[0].Id))
	assert.False(t, db.Exists(clients[1].Id))
}

func TestHttpClientGroup_FailsWithoutRoute(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	env := Environment{Routes: routing.NewRedisTable(client, "galileo:rtbl"), Queue: NewProfileQueue(client)}
	group, err := NewEcho().SpawnGroup(context.Background(), GroupConfig{Clients: 1, Zone: "zone-a"}, env)
	require.NoError(t, err)

	_, err = group.Request(context.Background(), Synthetic(1, 0))
	assert.Equal(t, "workload", experimenterrors.Kind(err))
}

func TestHttpClientGroup_FailsWithoutProfile(t *testing.T) {
	server := newRecordingServer(t)
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	env := Environment{Queue: NewProfileQueue(client)}
	group, err := NewEcho().SpawnGroup(context.Background(), GroupConfig{Clients: 1, Zone: "zone-a", Target: server.host()}, env)
	require.NoError(t, err)

	_, err = group.Request(context.Background(), Prerecorded())
	assert.Equal(t, "workload", experimenterrors.Kind(err))
	assert.Equal(t, 0, server.count())
}

func TestHttpClientGroup_AllRequestsFailing(t *testing.T) {
	server := newRecordingServer(t)
	server.status = http.StatusInternalServerError

	group, err := NewEcho().SpawnGroup(context.Background(), GroupConfig{Clients: 1, Zone: "zone-a", Target: server.host()}, Environment{})
	require.NoError(t, err)

	handle, err := group.Request(context.Background(), Synthetic(2, 0.001))
	require.NoError(t, err)
	result, err := handle.Wait()

	assert.Equal(t, "workload", experimenterrors.Kind(err))
	assert.Equal(t, map[string]int{"500": 2}, result.StatusCodes)
}

func TestHttpClientGroup_RejectsRequestsAfterClose(t *testing.T) {
	group, err := NewEcho().SpawnGroup(context.Background(), GroupConfig{Clients: 1, Zone: "zone-a", Target: "localhost:1"}, Environment{})
	require.NoError(t, err)

	require.NoError(t, group.Close())
	require.NoError(t, group.Close())

	_, err = group.Request(context.Background(), Synthetic(1, 0))
	assert.Equal(t, "workload", experimenterrors.Kind(err))
}

func TestHttpClientGroup_RequiresClients(t *testing.T) {
	_, err := NewEcho().SpawnGroup(context.Background(), GroupConfig{Clients: 0, Zone: "zone-a"}, Environment{})
	assert.Equal(t, "invalid_argument", experimenterrors.Kind(err))
}

func TestMobilenet_SpawnGroupPostsPicture(t *testing.T) {
	picture := []byte{0x89, 0x50, 0x4e, 0x47}
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(picture)
	}))
	defer imageServer.Close()
	server := newRecordingServer(t)

	group, err := NewMobilenet().SpawnGroup(context.Background(), GroupConfig{
		Clients: 1,
		Zone:    "zone-a",
		Target:  server.host(),
		Params:  map[string]string{ImageUrlParam: imageServer.URL + "/picture.png"},
	}, Environment{})
	require.NoError(t, err)
	assert.Equal(t, "mobilenet-zone-a", group.Name())

	handle, err := group.Request(context.Background(), Synthetic(1, 0))
	require.NoError(t, err)
	_, err = handle.Wait()
	require.NoError(t, err)

	require.Equal(t, 1, server.count())
	request, content := server.request(0)
	assert.Equal(t, http.MethodPost, request.Method)
	assert.Equal(t, "/function/mobilenet", request.URL.Path)

	var body map[string]string
	require.NoError(t, json.Unmarshal(content, &body))
	assert.Equal(t, base64.StdEncoding.EncodeToString(picture), body["picture"])
}

func TestMobilenet_FetchesPictureOnce(t *testing.T) {
	fetched := 0
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched++
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer imageServer.Close()

	mobilenet := NewMobilenet()
	config := GroupConfig{
		Clients: 1,
		Zone:    "zone-a",
		Params:  map[string]string{ImageUrlParam: imageServer.URL},
	}
	for i := 0; i < 3; i++ {
		group, err := mobilenet.SpawnGroup(context.Background(), config, Environment{})
		require.NoError(t, err)
		require.NoError(t, group.Close())
	}

	assert.Equal(t, 1, fetched)
}

func TestMobilenet_SpawnGroupFailsWhenPictureIsUnavailable(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer imageServer.Close()

	_, err := NewMobilenet().SpawnGroup(context.Background(), GroupConfig{
		Clients: 1,
		Zone:    "zone-a",
		Params:  map[string]string{ImageUrlParam: imageServer.URL},
	}, Environment{})

	assert.Equal(t, "workload", experimenterrors.Kind(err))
}

func TestMobilenet_Container(t *testing.T) {
	resources := v1.ResourceList{v1.ResourceCPU: resource.MustParse("1")}

	container := NewMobilenet().Container("mobilenet-nuc1-0", "edgerun/mobilenet-inference:1.0.0", resources)

	assert.Equal(t, "mobilenet-nuc1-0", container.Name)
	assert.Equal(t, "edgerun/mobilenet-inference:1.0.0", container.Image)
	assert.Equal(t, []v1.ContainerPort{{Name: "function-port", ContainerPort: 8080}}, container.Ports)
	assert.Equal(t, resources, container.Resources.Requests)
	require.Len(t, container.Env, 5)
	assert.Equal(t, "NODE_NAME", container.Env[0].Name)
	assert.Equal(t, "spec.nodeName", container.Env[0].ValueFrom.FieldRef.FieldPath)
	assert.Equal(t, v1.EnvVar{Name: "IMAGE_STORAGE", Value: "request"}, container.Env[4])
}

func TestRegistry(t *testing.T) {
	registry := DefaultRegistry()
	assert.Equal(t, []string{"echo", "mobilenet"}, registry.Names())

	application, err := registry.Get("mobilenet")
	assert.NoError(t, err)
	assert.Equal(t, "mobilenet", application.Name())

	_, err = registry.Get("resnet")
	assert.Equal(t, "invalid_argument", experimenterrors.Kind(err))
}

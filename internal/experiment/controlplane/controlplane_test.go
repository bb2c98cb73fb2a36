package controlplane

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

func withRedis(t *testing.T, action func(client *redis.Client, db *miniredis.Miniredis)) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	action(client, db)
}

func subscribe(t *testing.T, client *redis.Client, channels ...string) *redis.PubSub {
	pubsub := client.Subscribe(channels...)
	_, err := pubsub.Receive()
	require.NoError(t, err)
	return pubsub
}

func receive(t *testing.T, pubsub *redis.PubSub) *redis.Message {
	select {
	case message := <-pubsub.Channel():
		return message
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestDiscovery_Discover(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		config := configuration.Default().ControlPlane
		_, err := db.SetAdd(config.WorkersKey, "nuc2", "nuc1")
		require.NoError(t, err)

		pubsub := subscribe(t, client, config.RegisterChannel)
		defer pubsub.Close()

		workers, err := NewDiscovery(client, config).Discover()
		assert.NoError(t, err)
		assert.Equal(t, []string{"nuc1", "nuc2"}, workers)
		assert.Equal(t, "ping", receive(t, pubsub).Payload)
	})
}

func TestTracer(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		config := configuration.Default().ControlPlane
		pubsub := subscribe(t, client, config.TraceChannel)
		defer pubsub.Close()

		tracer := NewTracer(client, config)
		require.NoError(t, tracer.StartTracing())
		require.NoError(t, tracer.StopTracing())

		assert.Equal(t, "start", receive(t, pubsub).Payload)
		assert.Equal(t, "stop", receive(t, pubsub).Payload)
	})
}

func TestTelemetry_AllHosts(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		config := configuration.Default().ControlPlane
		pubsub := subscribe(t, client, "telemcmd/unpause", "telemcmd/pause")
		defer pubsub.Close()

		telemetry := NewTelemetry(client, config)
		require.NoError(t, telemetry.Start(nil))
		require.NoError(t, telemetry.Stop(nil))

		assert.Equal(t, "telemcmd/unpause", receive(t, pubsub).Channel)
		assert.Equal(t, "telemcmd/pause", receive(t, pubsub).Channel)
	})
}

func TestTelemetry_SelectedHosts(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		config := configuration.Default().ControlPlane
		pubsub := subscribe(t, client, "telemcmd/unpause/nuc1", "telemcmd/unpause/nuc2", "telemcmd/unpause")
		defer pubsub.Close()

		require.NoError(t, NewTelemetry(client, config).Start([]string{"nuc1", "nuc2"}))

		assert.Equal(t, "telemcmd/unpause/nuc1", receive(t, pubsub).Channel)
		assert.Equal(t, "telemcmd/unpause/nuc2", receive(t, pubsub).Channel)
	})
}

func TestExperimentRecorder_StartStop(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		config := configuration.Default().ControlPlane
		pubsub := subscribe(t, client, config.ExperimentChannel)
		defer pubsub.Close()

		recorder := NewExperimentRecorder(client, config)
		metadata := domain.RunMetadata{
			Exp: domain.ExpMetadata{
				AppName:  "mobilenet",
				Host:     "nuc1",
				Requests: domain.RequestsMetadata{N: 10, Interarrival: 0.5, Clients: 2, Pods: 1},
			},
		}

		id, err := recorder.Start(ExperimentRecord{Name: "mobilenet-1650000000", Creator: "tester", Metadata: metadata})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, "start "+id, receive(t, pubsub).Payload)

		running, ok := recorder.Running()
		assert.True(t, ok)
		assert.Equal(t, "mobilenet-1650000000", running.Name)

		stored, err := recorder.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, stored.Status)
		assert.Equal(t, "tester", stored.Creator)
		assert.Equal(t, metadata, stored.Metadata)
		assert.True(t, stored.End.IsZero())

		require.NoError(t, recorder.Stop())
		assert.Equal(t, "stop "+id, receive(t, pubsub).Payload)

		stored, err = recorder.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusFinished, stored.Status)
		assert.False(t, stored.End.Before(stored.Start))

		_, ok = recorder.Running()
		assert.False(t, ok)
	})
}

func TestExperimentRecorder_OnlyOneRunningExperiment(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		recorder := NewExperimentRecorder(client, configuration.Default().ControlPlane)

		assert.Error(t, recorder.Stop())

		_, err := recorder.Start(ExperimentRecord{Id: "exp-1", Name: "a"})
		require.NoError(t, err)
		_, err = recorder.Start(ExperimentRecord{Id: "exp-2", Name: "b"})
		assert.Error(t, err)

		assert.True(t, db.Exists(ExperimentKey("exp-1")))
		assert.False(t, db.Exists(ExperimentKey("exp-2")))
	})
}

// failingPublish stores like redis but loses every published message.
type failingPublish struct{ *redis.Client }

func (c failingPublish) Publish(channel string, message interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, fmt.Errorf("connection reset"))
}

func TestExperimentRecorder_StartTracksStoredRecordWhenAnnouncementFails(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		recorder := NewExperimentRecorder(failingPublish{client}, configuration.Default().ControlPlane)

		id, err := recorder.Start(ExperimentRecord{Name: "mobilenet-1650000000", Creator: "tester"})
		require.Error(t, err)
		require.NotEmpty(t, id)
		_, ok := recorder.Running()
		assert.True(t, ok)

		// the stop announcement is lost as well, the record is finished anyway
		assert.Error(t, recorder.Stop())
		stored, err := recorder.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusFinished, stored.Status)
		_, ok = recorder.Running()
		assert.False(t, ok)
	})
}

func TestExperimentRecorder_Get_Missing(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		record, err := NewExperimentRecorder(client, configuration.Default().ControlPlane).Get("missing")
		assert.NoError(t, err)
		assert.Nil(t, record)
	})
}

func TestReadinessSignal_ReturnsOnFirstEvent(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		signal := NewReadinessSignal(client, "galileo/events")
		armed, err := signal.Arm()
		require.NoError(t, err)
		defer armed.Close()

		db.Publish("galileo/events", "pod/running")
		db.Publish("galileo/events", "pod/running")

		assert.NoError(t, armed.Wait(context.Background(), time.Second))
	})
}

func TestReadinessSignal_TimesOut(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		signal := NewReadinessSignal(client, "galileo/events")

		err := signal.Wait(context.Background(), 20*time.Millisecond)

		assert.Equal(t, "readiness_timeout", experimenterrors.Kind(err))
	})
}

func TestReadinessSignal_StopsOnCancelledContext(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		signal := NewReadinessSignal(client, "galileo/events")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := signal.Wait(ctx, time.Minute)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewContext(t *testing.T) {
	withRedis(t, func(client *redis.Client, db *miniredis.Miniredis) {
		ctx := NewContext(client, configuration.Default())
		assert.NotNil(t, ctx.Discovery)
		assert.NotNil(t, ctx.Tracer)
		assert.NotNil(t, ctx.Telemetry)
		assert.NotNil(t, ctx.Recorder)
		assert.Equal(t, "galileo/events", ctx.Readiness.channel)
	})
}

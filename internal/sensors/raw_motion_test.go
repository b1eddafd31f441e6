package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/ar_walk/internal/motion"
	"github.com/relabs-tech/ar_walk/internal/mqtttest"
)

type sampleSink struct {
	mu      sync.Mutex
	samples []motion.Sample
}

func (s *sampleSink) add(sm motion.Sample) {
	s.mu.Lock()
	s.samples = append(s.samples, sm)
	s.mu.Unlock()
}

func (s *sampleSink) all() []motion.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]motion.Sample(nil), s.samples...)
}

func newRawDriver(client *mqtttest.Client) *RawMotionDriver {
	d := NewRawMotionDriver(RawMotionConfig{Broker: "tcp://broker:1883", ClientID: "test", Topic: "arwalk/motion"})
	d.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }
	return d
}

func publishEvent(t *testing.T, c *mqtttest.Client, ev MotionEvent) {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.True(t, c.Deliver("arwalk/motion", b))
}

func TestRawMotion_StreamsEventsWithDeviceInterval(t *testing.T) {
	client := mqtttest.NewClient()
	d := newRawDriver(client)
	require.True(t, d.Available())

	perm := motion.NewPermission()
	out := motion.Authorize(context.Background(), d.Gate(), perm)
	require.True(t, out.Granted, "%v", out.Reason)

	src := d.NewSource(perm)
	sink := &sampleSink{}
	src.OnSample(sink.add)
	require.NoError(t, src.Start(context.Background()))
	assert.Equal(t, motion.SourceActive, src.Status())
	assert.True(t, client.Subscribed("arwalk/motion"))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	publishEvent(t, client, MotionEvent{Z: -0.5, Interval: 100, Timestamp: base})
	publishEvent(t, client, MotionEvent{Z: 1.5, Timestamp: base.Add(20 * time.Millisecond)})
	publishEvent(t, client, MotionEvent{Z: 2.0}) // no timing at all
	require.True(t, client.Deliver("arwalk/motion", []byte("not json")))

	got := sink.all()
	require.Len(t, got, 2)
	assert.InDelta(t, 0.1, got[0].DT, 1e-12)
	assert.Equal(t, -0.5, got[0].Acceleration)
	assert.Equal(t, motion.RawMotionEvent, got[0].Backend)
	assert.InDelta(t, 0.02, got[1].DT, 1e-12)

	src.Stop()
	src.Stop()
	assert.Equal(t, []string{"arwalk/motion"}, client.Unsubscribed())
	assert.Equal(t, 1, client.Disconnects())
	assert.Equal(t, motion.SourceStopped, src.Status())
}

func TestRawMotion_FirstTimestampOnlyEventDropped(t *testing.T) {
	s := &rawMotionSource{}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Zero(t, s.elapsed(MotionEvent{Timestamp: ts}))
	assert.Zero(t, s.elapsed(MotionEvent{Timestamp: ts})) // not after previous
	assert.InDelta(t, 0.5, s.elapsed(MotionEvent{Timestamp: ts.Add(500 * time.Millisecond)}), 1e-12)
}

func TestRawMotion_RefusedCredentialsAreDenied(t *testing.T) {
	for _, refusal := range []error{packets.ErrorRefusedNotAuthorised, packets.ErrorRefusedBadUsernameOrPassword} {
		client := mqtttest.NewClient()
		client.ConnectErr = refusal
		d := newRawDriver(client)

		perm := motion.NewPermission()
		out := motion.Authorize(context.Background(), d.Gate(), perm)
		assert.False(t, out.Granted)
		assert.ErrorIs(t, out.Reason, motion.ErrPermissionDenied)
		assert.Equal(t, motion.PermissionDenied, perm.State())
	}
}

func TestRawMotion_ConnectFailureIsInitialization(t *testing.T) {
	client := mqtttest.NewClient()
	client.ConnectErr = errors.New("network unreachable")
	d := newRawDriver(client)

	out := motion.Authorize(context.Background(), d.Gate(), motion.NewPermission())
	assert.ErrorIs(t, out.Reason, motion.ErrInitialization)
}

func TestRawMotion_SubscribeFailure(t *testing.T) {
	client := mqtttest.NewClient()
	client.SubscribeErr = errors.New("topic rejected")
	d := newRawDriver(client)
	perm := motion.NewPermission()
	motion.Authorize(context.Background(), d.Gate(), perm)

	src := d.NewSource(perm)
	err := src.Start(context.Background())
	assert.ErrorIs(t, err, motion.ErrInitialization)
	assert.Equal(t, motion.SourceError, src.Status())

	src.Stop()
	assert.Equal(t, 1, client.Disconnects())
}

func TestRawMotion_ReleaseWithoutSource(t *testing.T) {
	client := mqtttest.NewClient()
	d := newRawDriver(client)
	motion.Authorize(context.Background(), d.Gate(), motion.NewPermission())

	d.Release()
	d.Release()
	assert.Equal(t, 1, client.Disconnects())

	// the released client is gone; a source built now has nothing to use
	src := d.NewSource(motion.NewPermission())
	assert.Error(t, src.Start(context.Background()))
}

func TestRawMotion_CancelledConnectIsDisconnected(t *testing.T) {
	client := mqtttest.NewClient()
	client.ConnectToken = mqtttest.NewPendingToken()
	d := newRawDriver(client)

	ctx, cancel := context.WithCancel(context.Background())
	outcome := make(chan motion.Outcome, 1)
	go func() { outcome <- motion.Authorize(ctx, d.Gate(), motion.NewPermission()) }()
	cancel()

	var out motion.Outcome
	select {
	case out = <-outcome:
	case <-time.After(time.Second):
		t.Fatal("gate did not return after cancellation")
	}
	assert.False(t, out.Granted)
	assert.ErrorIs(t, out.Reason, context.Canceled)

	// nothing was handed to the driver, so Release has nothing to close
	d.Release()
	assert.Zero(t, client.Disconnects())

	// the broker accepts late; the abandoned client is dropped
	client.ConnectToken.Complete(nil)
	assert.Eventually(t, func() bool { return client.Disconnects() == 1 }, time.Second, time.Millisecond)
}

func TestRawMotion_Unavailable(t *testing.T) {
	assert.False(t, NewRawMotionDriver(RawMotionConfig{Topic: "arwalk/motion"}).Available())
	assert.False(t, NewRawMotionDriver(RawMotionConfig{Broker: "tcp://broker:1883"}).Available())
}

package sensors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/ar_walk/internal/motion"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fusionServer answers the init handshake with reply and, once started,
// streams the given forward deltas.
func fusionServer(t *testing.T, token string, reply FusionMessage, deltas []float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var m FusionMessage
		if err := conn.ReadJSON(&m); err != nil || m.Type != "init" {
			return
		}
		if err := conn.WriteJSON(reply); err != nil || reply.Type != "ready" {
			return
		}
		if err := conn.ReadJSON(&m); err != nil || m.Type != "start" {
			return
		}
		conn.WriteJSON(FusionMessage{Type: "status"})
		for _, z := range deltas {
			if err := conn.WriteJSON(FusionMessage{Type: "delta", Z: z}); err != nil {
				return
			}
		}
		// hold the stream open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFusion_HandshakeAndStream(t *testing.T) {
	srv := fusionServer(t, "s3cret", FusionMessage{Type: "ready", Rate: 50}, []float64{0.5, -1.25})
	d := NewFusionDriver(FusionConfig{URL: wsURL(srv), Token: "s3cret"})
	require.True(t, d.Available())

	perm := motion.NewPermission()
	out := motion.Authorize(context.Background(), d.Gate(), perm)
	require.True(t, out.Granted, "%v", out.Reason)

	src := d.NewSource(perm)
	sink := &sampleSink{}
	src.OnSample(sink.add)
	require.NoError(t, src.Start(context.Background()))

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, 2*time.Second, time.Millisecond)
	got := sink.all()
	assert.Equal(t, 0.5, got[0].Acceleration)
	assert.Equal(t, -1.25, got[1].Acceleration)
	assert.InDelta(t, 1.0/50, got[0].DT, 1e-12)
	assert.Equal(t, motion.FusionLibrary, got[0].Backend)

	src.Stop()
	src.Stop()
	assert.Equal(t, motion.SourceStopped, src.Status())
}

func TestFusion_DefaultRate(t *testing.T) {
	srv := fusionServer(t, "", FusionMessage{Type: "ready"}, []float64{1})
	d := NewFusionDriver(FusionConfig{URL: wsURL(srv)})

	perm := motion.NewPermission()
	require.True(t, motion.Authorize(context.Background(), d.Gate(), perm).Granted)
	src := d.NewSource(perm)
	sink := &sampleSink{}
	src.OnSample(sink.add)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, time.Millisecond)
	assert.InDelta(t, 1.0/60, sink.all()[0].DT, 1e-12)
}

func TestFusion_UnauthorizedIsDenial(t *testing.T) {
	srv := fusionServer(t, "s3cret", FusionMessage{Type: "ready"}, nil)
	d := NewFusionDriver(FusionConfig{URL: wsURL(srv), Token: "wrong"})

	out := motion.Authorize(context.Background(), d.Gate(), motion.NewPermission())
	assert.ErrorIs(t, out.Reason, motion.ErrPermissionDenied)
}

func TestFusion_DeniedReply(t *testing.T) {
	srv := fusionServer(t, "", FusionMessage{Type: "denied", Reason: "motion access off"}, nil)
	d := NewFusionDriver(FusionConfig{URL: wsURL(srv)})

	out := motion.Authorize(context.Background(), d.Gate(), motion.NewPermission())
	assert.ErrorIs(t, out.Reason, motion.ErrPermissionDenied)
	assert.Contains(t, out.Reason.Error(), "motion access off")
}

func TestFusion_UnexpectedReply(t *testing.T) {
	srv := fusionServer(t, "", FusionMessage{Type: "bogus"}, nil)
	d := NewFusionDriver(FusionConfig{URL: wsURL(srv)})

	out := motion.Authorize(context.Background(), d.Gate(), motion.NewPermission())
	assert.ErrorIs(t, out.Reason, motion.ErrInitialization)
}

func TestFusion_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	d := NewFusionDriver(FusionConfig{URL: url})
	out := motion.Authorize(context.Background(), d.Gate(), motion.NewPermission())
	assert.ErrorIs(t, out.Reason, motion.ErrInitialization)
}

func TestFusion_ReleaseClosesPendingConnection(t *testing.T) {
	srv := fusionServer(t, "", FusionMessage{Type: "ready"}, nil)
	d := NewFusionDriver(FusionConfig{URL: wsURL(srv)})
	require.True(t, motion.Authorize(context.Background(), d.Gate(), motion.NewPermission()).Granted)

	d.Release()
	d.mu.Lock()
	assert.Nil(t, d.conn)
	d.mu.Unlock()
	assert.NotPanics(t, d.Release)
}

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/ar_walk/internal/location"
	"github.com/relabs-tech/ar_walk/internal/motion"
)

func TestSnapshotLines_Idle(t *testing.T) {
	assert.Equal(t, []string{"AR Walk", "Scan the QR code", "", "No GPS yet"}, snapshotLines(nil, nil))

	fix := &location.Fix{Latitude: -22.0167, Longitude: -47.8833}
	assert.Equal(t, []string{"AR Walk", "Scan the QR code", "22.0167S", "47.8833W"},
		snapshotLines(&motion.Snapshot{}, fix))
}

func TestSnapshotLines_Active(t *testing.T) {
	snap := &motion.Snapshot{
		Active:     true,
		Backend:    "generic",
		Permission: "granted",
		Source:     "active",
		VelocityZ:  0.0476,
		Position:   [3]float64{0, 0, -4.25},
	}
	lines := snapshotLines(snap, nil)
	assert.Equal(t, []string{"generic active", "perm granted", "v +0.048 m/s", "z -4.25 m"}, lines)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 18, l)
	}

	snap.Backend = ""
	snap.Source = "idle"
	assert.Equal(t, "none idle", snapshotLines(snap, nil)[0])
}

func TestLatLonLines(t *testing.T) {
	assert.Equal(t, "48.1173N", latLine(48.1173))
	assert.Equal(t, "11.5167E", lonLine(11.5167))
}

func TestRenderLines(t *testing.T) {
	blank := renderLines(nil)
	for _, b := range blank.Pix {
		assert.Zero(t, b)
	}

	img := renderLines([]string{"AR Walk", "", "", "", "ignored"})
	lit := 0
	for _, b := range img.Pix {
		if b != 0 {
			lit++
		}
	}
	assert.Positive(t, lit)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

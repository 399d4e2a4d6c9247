package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/internal/rtperr"
)

func TestDisabledCollectorMethodsAreNoOps(t *testing.T) {
	c := New(Config{Enabled: false})

	require.NotPanics(t, func() {
		c.SessionOpened()
		c.PacketSent(1200)
		c.PacketReceived(1200)
		c.PacketsLost("123", 3)
		c.ObserveJitter(5.0)
		c.ObserveRTT(40.0)
		c.SetLossRatio(0.1)
		c.SetBweState("Normal", []string{"Normal", "Overusing", "Underusing"})
		c.SetTargetBitrate(1_000_000)
		c.SetStableBitrate(900_000)
		c.NackSent()
		c.NackReceived()
		c.Retransmitted()
		c.FecGenerated()
		c.FecRecovered()
		c.FrameDecodable()
		c.FrameDropped()
		c.ErrorOccurred(rtperr.Parse("rtppkt", "Unmarshal", nil))
		c.SessionClosed()
	})
}

func TestEnabledCollectorRegistersWithoutPanicking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Namespace = "rtprtcp_test_enabled"
	c := New(cfg)

	require.NotPanics(t, func() {
		c.SessionOpened()
		c.PacketSent(1200)
		c.PacketReceived(1200)
		c.PacketsLost("abc123", 2)
		c.ObserveJitter(3.5)
		c.ObserveRTT(55.0)
		c.SetLossRatio(0.02)
		c.SetBweState("Overusing", []string{"Normal", "Overusing", "Underusing"})
		c.SetTargetBitrate(2_000_000)
		c.SetStableBitrate(1_800_000)
		c.NackSent()
		c.NackReceived()
		c.Retransmitted()
		c.FecGenerated()
		c.FecRecovered()
		c.FrameDecodable()
		c.FrameDropped()
		c.ErrorOccurred(rtperr.Fatal("session", "Close", nil))
		c.SessionClosed()
	})
}

func TestErrorOccurredToleratesNil(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Namespace = "rtprtcp_test_nilerr"
	c := New(cfg)
	require.NotPanics(t, func() { c.ErrorOccurred(nil) })
}

package hlc

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/evolu-go/sync/synerr"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSendStrictlyIncreasing(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	c := NewClock(1, fixedNow(base), 0)
	var prev Timestamp
	for i := 0; i < 1000; i++ {
		ts, err := c.Send()
		require.NoError(t, err)
		if i > 0 {
			require.Equal(t, -1, prev.Compare(ts), "send #%d did not increase", i)
		}
		prev = ts
	}
}

func TestSendCounterOverflow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	c := NewClock(1, fixedNow(base), 0)
	for i := 0; i <= maxCounter; i++ {
		_, err := c.Send()
		require.NoError(t, err)
	}
	_, err := c.Send()
	require.ErrorIs(t, err, synerr.ErrCounterOverflow)
}

func TestSendClockDrift(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	c := NewClock(1, fixedNow(base), 0)
	c.physical = base.Add(10 * time.Minute).UnixMilli()
	_, err := c.Send()
	var drift *synerr.ClockDrift
	require.ErrorAs(t, err, &drift)
}

func TestReceiveCausality(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	a := NewClock(1, fixedNow(base), 0)
	b := NewClock(2, fixedNow(base), 0)
	sent, err := a.Send()
	require.NoError(t, err)
	_, err = b.Receive(sent)
	require.NoError(t, err)
	next, err := b.Send()
	require.NoError(t, err)
	require.Equal(t, -1, sent.Compare(next))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ts := Timestamp{
			Physical: rapid.Int64Range(0, maxPhysical).Draw(rt, "physical"),
			Counter:  uint16(rapid.IntRange(0, maxCounter).Draw(rt, "counter")),
			NodeID:   rapid.Uint64Range(0, maxNode).Draw(rt, "node"),
		}
		b := EncodeBytes(ts)
		require.Len(t, b, Size)
		got, err := Decode(b)
		require.NoError(t, err)
		require.Equal(t, ts, got)
	})
}

func TestCompareMatchesByteOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gen := rapid.Custom(func(rt *rapid.T) Timestamp {
			return Timestamp{
				Physical: rapid.Int64Range(0, maxPhysical).Draw(rt, "physical"),
				Counter:  uint16(rapid.IntRange(0, maxCounter).Draw(rt, "counter")),
				NodeID:   rapid.Uint64Range(0, maxNode).Draw(rt, "node"),
			}
		})
		a := gen.Draw(rt, "a")
		b := gen.Draw(rt, "b")
		want := bytes.Compare(EncodeBytes(a), EncodeBytes(b))
		got := a.Compare(b)
		require.Equal(t, sign(want), sign(got))
	})
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

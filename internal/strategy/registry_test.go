package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistry_RegisterAndGet verifies lookups and the not-registered error.
func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	sa := NewStatArb(statArbTestParams(), testLogger())
	r.Register(sa, 0.4)

	got, err := r.Get(NameStatArb)
	require.NoError(t, err)
	assert.Equal(t, sa, got)
	assert.InDelta(t, 0.4, r.Weight(NameStatArb), 1e-9)

	_, err = r.Get("nope")
	assert.Error(t, err)
	assert.Zero(t, r.Weight("nope"))
}

// TestRegistry_ListSorted verifies deterministic ordering.
func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(NewStatArb(statArbTestParams(), testLogger()), 0.4)
	r.Register(NewSentimentEnsemble(sentimentTestParams(), NewMarketTracker(time.Hour), testLogger()), 0.6)

	assert.Equal(t, []string{NameSentimentEnsemble, NameStatArb}, r.List())
}

// TestRegistry_RecordSignals verifies counters accumulate and surface in
// ListInfo.
func TestRegistry_RecordSignals(t *testing.T) {
	r := NewRegistry()
	r.Register(NewStatArb(statArbTestParams(), testLogger()), 0.4)

	at := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	r.RecordSignals(NameStatArb, 2, at)
	r.RecordSignals(NameStatArb, 0, at.Add(time.Minute))
	r.RecordError(NameStatArb)

	infos := r.ListInfo()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(2), infos[0].SignalsSent)
	assert.Equal(t, int64(1), infos[0].ErrorCount)
	require.NotNil(t, infos[0].LastSignal)
	assert.Equal(t, at, *infos[0].LastSignal)
}

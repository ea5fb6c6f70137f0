package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

var _ pipeline.Clock = (*Clock)(nil)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "%v outside [%v, %v]", got, before, after)
	assert.Contains(t, got.Format(time.RFC3339Nano), "Z")
}

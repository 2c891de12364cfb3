package linear_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/linear"
)

func TestRenderer_Lifecycle(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr, linear.WithProfile(termenv.Ascii))
	require.NoError(t, r.Start(t.Context()))

	r.OnPlanEmit([]string{"a", "b", "c"}, map[string][]string{"b": {"a"}}, []string{"a", "b", "c"})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.OnTaskStart("s1", "", "a", start)
	r.OnTaskStart("s2", "", "b", start)
	r.OnTaskStart("s3", "", "c", start)

	r.OnTaskLog("s1", []byte("first\nsec"))
	r.OnTaskLog("s1", []byte("ond\n"))
	r.OnTaskLog("s1", []byte("partial"))
	r.OnTaskLog("unknown", []byte("dropped\n"))

	r.OnTaskComplete("s1", start.Add(1500*time.Microsecond), nil, false)
	r.OnTaskComplete("s2", start, nil, true)
	r.OnTaskComplete("s3", start.Add(time.Second), errors.New("boom"), false)
	r.OnTaskComplete("s3", start, nil, false)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Wait())

	assert.Equal(t, "[a] first\n[a] second\n[a] partial\n", stdout.String())
	assert.Equal(t, "Checking 3 module(s)\n"+
		"[a] Checking...\n[b] Checking...\n[c] Checking...\n"+
		"[a] ✓ Checked in 2ms\n"+
		"[b] ≡ Cached\n"+
		"[c] ✗ Failed after 1s: boom\n", stderr.String())
}

func TestRenderer_StopFlushesPartialLines(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := linear.NewRenderer(&stdout, &stderr, linear.WithProfile(termenv.Ascii))

	r.OnTaskStart("s1", "", "m", time.Now())
	r.OnTaskLog("s1", []byte("no newline"))
	assert.Empty(t, stdout.String())

	require.NoError(t, r.Stop())
	assert.Equal(t, "[m] no newline\n", stdout.String())
}

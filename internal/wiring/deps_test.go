package wiring_test

import (
	"testing"

	"github.com/grindlemire/graft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/app"
	_ "go.trai.ch/kiln/internal/wiring"
)

// TestGraph_Resolves builds the whole node graph the CLI starts from.
func TestGraph_Resolves(t *testing.T) {
	components, _, err := graft.ExecuteFor[*app.Components](t.Context())
	require.NoError(t, err)
	assert.NotNil(t, components.App)
	assert.NotNil(t, components.Logger)
}

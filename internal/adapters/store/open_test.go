package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/store"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func TestOpener_Open(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	log.EXPECT().Error(gomock.Any()).AnyTimes()
	o := store.NewOpener(log)

	for _, backend := range []domain.StoreBackend{domain.StoreFile, domain.StoreBadger, domain.StoreSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			s, err := o.Open(backend, filepath.Join(t.TempDir(), "store"))
			require.NoError(t, err)
			require.NotNil(t, s)
			defer func() { require.NoError(t, s.Close()) }()

			require.NoError(t, s.Store(t.Context(), 9, []byte("nine")))
			usage, err := s.Usage(t.Context())
			require.NoError(t, err)
			assert.Equal(t, backend, usage.Backend)
			assert.Equal(t, int64(1), usage.Entries)
		})
	}

	s, err := o.Open(domain.StoreNone, "")
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = o.Open("tape", "")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

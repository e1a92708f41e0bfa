package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/server/internal/shared/config"
)

func TestNew(t *testing.T) {
	t.Run("opens sqlite and creates the directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "test.db")
		db, err := New(&config.DatabaseConfig{Driver: "sqlite", Path: path})
		require.NoError(t, err)
		defer Close(db)

		var one int
		require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
		assert.Equal(t, 1, one)
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		_, err := New(&config.DatabaseConfig{Driver: "oracle"})
		assert.Error(t, err)
	})
}

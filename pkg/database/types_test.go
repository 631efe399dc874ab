package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArray_ScanValue(t *testing.T) {
	v, err := StringArray{"tarot", "vedic"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["tarot","vedic"]`, v)

	var a StringArray
	require.NoError(t, a.Scan([]byte(`["numerology"]`)))
	assert.Equal(t, StringArray{"numerology"}, a)

	require.NoError(t, a.Scan(nil))
	assert.Nil(t, a)

	assert.Error(t, a.Scan(42))
}

func TestNew_SQLiteInMemory(t *testing.T) {
	db, err := New(&Config{Driver: "sqlite", FilePath: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)

	type taggedRow struct {
		ID   uint
		Tags StringArray
	}
	require.NoError(t, AutoMigrate(db, &taggedRow{}))
	require.NoError(t, db.Create(&taggedRow{Tags: StringArray{"a", "b"}}).Error)

	var got taggedRow
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, StringArray{"a", "b"}, got.Tags)

	_, err = New(&Config{Driver: "oracle"})
	assert.Error(t, err)
}

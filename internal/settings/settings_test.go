package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ouiprox/internal/util"
)

func TestPlanBandModes(t *testing.T) {
	s := Defaults()

	plan := s.Plan()
	assert.Equal(t, Band2GHz, plan.BandMode)
	assert.Equal(t, []string{"1", "6", "11"}, plan.Channels)
	assert.Equal(t, 13*time.Second, plan.Duration)

	s.Band5Enabled = true
	plan = s.Plan()
	assert.Equal(t, BandBoth, plan.BandMode)
	assert.Equal(t, []string{"1", "6", "11", "44", "52", "100", "149", "157", "161"}, plan.Channels)

	s.Band2Enabled = false
	assert.Equal(t, Band5GHz, s.Plan().BandMode)

	s.Band5Enabled = false
	assert.True(t, s.Plan().Empty())
}

func TestValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())

	s := Defaults()
	s.Band2Enabled = false
	assert.True(t, util.IsValidation(s.Validate()))

	s = Defaults()
	s.CaptureDurationSeconds = 0
	assert.True(t, util.IsValidation(s.Validate()))

	s = Defaults()
	s.Channels2 = nil
	assert.True(t, util.IsValidation(s.Validate()))

	s = Defaults()
	s.Channels2 = []int{40}
	assert.True(t, util.IsValidation(s.Validate()))
}

func TestFileSourceMissingFileUsesDefaults(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "settings.yaml"))

	s, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestFileSourceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	src := NewFileSource(path)

	want := Defaults()
	want.Band5Enabled = true
	want.CaptureDurationSeconds = 20
	want.Channels5 = []int{36, 149}
	require.NoError(t, src.Save(want))

	got, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileSourceRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	src := NewFileSource(path)

	bad := Defaults()
	bad.Band2Enabled = false
	err := src.Save(bad)
	require.Error(t, err)
	assert.True(t, util.IsValidation(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileSourcePartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capture_duration_seconds: 30\n"), 0644))

	s, err := NewFileSource(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 30, s.CaptureDurationSeconds)
	assert.Equal(t, "wlan1mon", s.Interface)
	assert.Equal(t, []int{1, 6, 11}, s.Channels2)
}

func TestFileSourceShorterChannelListsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("band5_enabled: true\nchannels2: [6]\nchannels5: [36]\n"), 0644))

	src := NewFileSource(path)
	s, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, []int{6}, s.Channels2)
	assert.Equal(t, []int{36}, s.Channels5)

	// Saving what was loaded must not grow the lists either.
	require.NoError(t, src.Save(s))
	again, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

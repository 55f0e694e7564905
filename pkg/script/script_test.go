package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NumericPreset(t *testing.T) {
	s, err := Load(PresetNumeric, "")
	require.NoError(t, err)

	assert.Equal(t, FollowUpMenu, s.FollowUp)
	assert.Equal(t, FallbackOff, s.FallbackMode)
	assert.Equal(t, "./trk.png", s.MediaPath)
	assert.Equal(t, 30*time.Second, s.ReminderDelay)

	reply, ok := s.Lookup("1")
	require.True(t, ok)
	assert.Equal(t, "سعر المنتج هو 199 درهم.", reply.Text)

	reply, ok = s.Lookup(" 2 ")
	require.True(t, ok)
	assert.Equal(t, "التوصيل مجاني لجميع المناطق 🚚.", reply.Text)

	_, ok = s.Lookup("4")
	assert.False(t, ok)
}

func TestLoad_CommandPresetIsCaseInsensitive(t *testing.T) {
	s, err := Load(PresetCommand, "")
	require.NoError(t, err)

	reply, ok := s.Lookup("START")
	require.True(t, ok)
	assert.True(t, reply.WithMedia)

	_, ok = s.Lookup("Help")
	assert.True(t, ok)

	assert.True(t, s.IsGreeting(" Hello"))
	assert.False(t, s.IsGreeting("xyz"))
	assert.Equal(t, FallbackUnlessGreeted, s.FallbackMode)
}

func TestLoad_UnknownPreset(t *testing.T) {
	_, err := Load("emoji", "")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestLoad_FileOverridesPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	content := `
caption: "Summer offer"
case_sensitive: true
reminder_delay: 45s
keywords:
  Price:
    text: "199 MAD"
fallback: "Unknown command"
fallback_mode: always
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := Load(PresetNumeric, path)
	require.NoError(t, err)

	assert.Equal(t, "Summer offer", s.Caption)
	assert.Equal(t, 45*time.Second, s.ReminderDelay)
	assert.Equal(t, FallbackAlways, s.FallbackMode)
	// Menu is kept from the preset
	assert.NotEmpty(t, s.Menu)

	_, ok := s.Lookup("Price")
	assert.True(t, ok)
	_, ok = s.Lookup("price")
	assert.False(t, ok, "case sensitive scripts keep keyword case")
	_, ok = s.Lookup("1")
	assert.False(t, ok, "file keywords replace the preset table")
}

func TestLoad_FileKeywordsReplacePresetTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	content := `
keywords:
  start:
    text: "go"
greeting_keywords: ["hey"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := Load(PresetCommand, path)
	require.NoError(t, err)

	assert.Len(t, s.Keywords, 1)
	reply, ok := s.Lookup("START")
	require.True(t, ok)
	assert.Equal(t, "go", reply.Text)
	assert.False(t, reply.WithMedia)

	_, ok = s.Lookup("help")
	assert.False(t, ok)

	assert.Equal(t, []string{"hey"}, s.GreetingKeywords)
	assert.False(t, s.IsGreeting("hello"))
}

func TestLoad_FileWithoutKeywordsKeepsPresetTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("caption: \"Winter offer\"\n"), 0o600))

	s, err := Load(PresetNumeric, path)
	require.NoError(t, err)

	assert.Equal(t, "Winter offer", s.Caption)
	for _, key := range []string{"1", "2", "3"} {
		_, ok := s.Lookup(key)
		assert.True(t, ok, key)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"fallback without text", "fallback_mode: always\n"},
		{"unknown fallback mode", "fallback_mode: sometimes\n"},
		{"unknown follow up", "follow_up: carousel\n"},
		{"reminder without text", "follow_up: reminder\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "script.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(PresetNumeric, path)
			assert.ErrorIs(t, err, ErrInvalidScript)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(PresetNumeric, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{PresetCommand, PresetNumeric}, Presets())
}

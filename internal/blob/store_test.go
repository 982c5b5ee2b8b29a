package blob

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperr "sudooom.im.chat/pkg/errors"
	"sudooom.im.chat/pkg/snowflake"
)

func TestDecodeDataURL(t *testing.T) {
	payload := []byte("hello attachment")
	url := "data:text/plain;base64," + base64.StdEncoding.EncodeToString(payload)

	mime, data, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mime)
	assert.Equal(t, payload, data)
}

func TestDecodeDataURL_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "data:text/plain;base64"},
		{"not base64 encoded", "data:text/plain,hello"},
		{"bad payload", "data:image/png;base64,!!!not-base64!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeDataURL(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrInvalidMessage))
		})
	}
}

func TestUniqueName(t *testing.T) {
	node := snowflake.NewNode(1)

	tests := []struct {
		original string
		ext      string
	}{
		{"photo.png", ".png"},
		{"archive.tar.GZ", ".gz"},
		{"../../etc/passwd", ""},
		{"noext", ""},
		{"weird.p/n", ""},
		{"evil.ph p", ".php"},
	}

	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			name := UniqueName(node, tt.original)
			assert.True(t, validName(name), name)
			if tt.ext == "" {
				assert.NotContains(t, name, ".")
			} else {
				assert.True(t, strings.HasSuffix(name, tt.ext), name)
			}
		})
	}
}

func TestUniqueName_Distinct(t *testing.T) {
	node := snowflake.NewNode(1)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		name := UniqueName(node, "a.jpg")
		_, dup := seen[name]
		require.False(t, dup, "duplicate name %s", name)
		seen[name] = struct{}{}
	}
}

func TestValidName(t *testing.T) {
	assert.True(t, validName("123.png"))
	assert.False(t, validName(""))
	assert.False(t, validName(".."))
	assert.False(t, validName("a/b.png"))
	assert.False(t, validName(`a\b.png`))
}

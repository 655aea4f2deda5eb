package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestImageExtension(t *testing.T) {
	tests := []struct {
		contentType, filename, ext string
		ok                         bool
	}{
		{"image/png", "x.bin", ".png", true},
		{"IMAGE/JPEG", "", ".jpg", true},
		{"", "poster.JPEG", ".jpg", true},
		{"", "poster.webp", ".webp", true},
		{"video/mp4", "clip.png", "", false},
		{"application/octet-stream", "photo.png", ".png", true},
		{"", "notes.pdf", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		ext, ok := ImageExtension(tt.contentType, tt.filename)
		assert.Equal(t, tt.ok, ok, "%s %s", tt.contentType, tt.filename)
		assert.Equal(t, tt.ext, ext)
	}
}

func TestImageKey(t *testing.T) {
	club := uuid.New()
	key := ImageKey(club, KindEvent, ".png")
	assert.True(t, strings.HasPrefix(key, "clubs/"+club.String()+"/events/"), key)
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.True(t, strings.HasPrefix(key, ClubPrefix(club)))
	assert.NotEqual(t, key, ImageKey(club, KindEvent, ".png"))

	assert.True(t, KindLogo.Valid())
	assert.False(t, ImageKind("ads").Valid())
	assert.Equal(t, "image/png", ContentTypeForExtension(".PNG"))
}

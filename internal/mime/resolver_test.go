package mime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableResolver_Resolve(t *testing.T) {
	r := NewTableResolver(nil)

	tests := []struct {
		ext    string
		want   string
		wantOK bool
	}{
		{"mp4", "video/mp4", true},
		{".mp4", "video/mp4", true},
		{"MP4", "video/mp4", true},
		{"mkv", "video/x-matroska", true},
		{"m3u8", "application/vnd.apple.mpegurl", true},
		{"mp3", "audio/mpeg", true},
		{"", "", false},
		{"definitely-not-a-type", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, ok := r.Resolve(tt.ext)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableResolver_SystemFallback(t *testing.T) {
	// ".html" is registered by the standard library on every platform.
	got, ok := NewTableResolver(nil).Resolve("html")
	assert.True(t, ok)
	assert.Contains(t, got, "text/html")
}

func TestTableResolver_Overrides(t *testing.T) {
	r := NewTableResolver(map[string]string{
		"mp4":  "video/custom-mp4",
		".sdp": "video/sealed",
		"mk*":  "video/matroska-family",
		"mka":  "audio/x-matroska",
	})

	tests := map[string]string{
		"mp4": "video/custom-mp4",
		"sdp": "video/sealed",
		"mkv": "video/matroska-family",
		"mks": "video/matroska-family",
		"mka": "audio/x-matroska",
	}
	for ext, want := range tests {
		got, ok := r.Resolve(ext)
		assert.True(t, ok, ext)
		assert.Equal(t, want, got, ext)
	}
}

func TestResolveName(t *testing.T) {
	r := NewTableResolver(nil)

	got, ok := ResolveName(r, "/media/holiday.MOV?token=abc")
	assert.True(t, ok)
	assert.Equal(t, "video/quicktime", got)

	_, ok = ResolveName(r, "noextension")
	assert.False(t, ok)
}

func TestResolverFunc(t *testing.T) {
	var r Resolver = ResolverFunc(func(ext string) (string, bool) { return "x/" + ext, true })
	got, ok := r.Resolve("y")
	assert.True(t, ok)
	assert.Equal(t, "x/y", got)
}

// Package mime maps resource extensions to content types for playback
// metadata responses.
package mime

import (
	stdmime "mime"
	"path"
	"sort"
	"strings"

	glob "github.com/ryanuber/go-glob"
)

// Resolver maps a file extension to a content type. The second result is
// false when the extension is unknown; that is not an error.
type Resolver interface {
	Resolve(ext string) (string, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ext string) (string, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(ext string) (string, bool) { return f(ext) }

// mediaTypes covers container formats players commonly request. The system
// MIME database is consulted after this table.
var mediaTypes = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/x-m4v",
	"mov":  "video/quicktime",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"avi":  "video/x-msvideo",
	"ts":   "video/mp2t",
	"m2ts": "video/mp2t",
	"3gp":  "video/3gpp",
	"m3u8": "application/vnd.apple.mpegurl",
	"mpd":  "application/dash+xml",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
}

type override struct {
	pattern     string
	contentType string
}

// TableResolver resolves through configured glob overrides, then the
// built-in media table, then the system MIME database.
type TableResolver struct {
	overrides []override
}

// NewTableResolver creates a resolver. overrides maps glob patterns over the
// bare, lower-cased extension (for example "mk*") to content types.
func NewTableResolver(overrides map[string]string) *TableResolver {
	r := &TableResolver{}
	for pattern, ct := range overrides {
		r.overrides = append(r.overrides, override{
			pattern:     strings.ToLower(strings.TrimPrefix(pattern, ".")),
			contentType: ct,
		})
	}
	// Exact patterns win over wildcards, then longer patterns over shorter.
	sort.Slice(r.overrides, func(i, j int) bool {
		a, b := r.overrides[i].pattern, r.overrides[j].pattern
		aw, bw := strings.Contains(a, "*"), strings.Contains(b, "*")
		if aw != bw {
			return !aw
		}
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return r
}

// Resolve implements Resolver.
func (r *TableResolver) Resolve(ext string) (string, bool) {
	ext = normalize(ext)
	if ext == "" {
		return "", false
	}

	for _, o := range r.overrides {
		if glob.Glob(o.pattern, ext) {
			return o.contentType, true
		}
	}

	if ct, ok := mediaTypes[ext]; ok {
		return ct, true
	}

	if ct := stdmime.TypeByExtension("." + ext); ct != "" {
		return ct, true
	}
	return "", false
}

// ResolveName resolves the content type of a resource name or URL path by
// its extension.
func ResolveName(r Resolver, name string) (string, bool) {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return r.Resolve(path.Ext(name))
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

package player

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultQuality is the rendition selected when a session opens.
const DefaultQuality = "720p"

// Qualities lists the renditions offered by the quality menu.
var Qualities = []string{"360p", "480p", "720p", "1080p"}

// PlaybackRates lists the speeds offered by the settings menu.
var PlaybackRates = []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2}

var (
	qualityLabel   = regexp.MustCompile(`^\d{3,4}p$`)
	qualityParam   = regexp.MustCompile(`quality=\d+p`)
	qualitySuffix  = regexp.MustCompile(`_(\d{3,4}p)\.`)
	qualitySegment = regexp.MustCompile(`/(\d{3,4}p)/`)
	fileExtension  = regexp.MustCompile(`\.(\w+)$`)
)

// ValidQuality reports whether q looks like a rendition label such as "720p".
func ValidQuality(q string) bool {
	return qualityLabel.MatchString(q)
}

// IsLocalSource reports whether uri names a file on disk rather than a CDN rendition.
func IsLocalSource(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return u.Scheme == "" || u.Scheme == "file"
}

// BuildQualityURI rewrites base so the CDN serves the given rendition. The first matching
// convention wins:
//
//	?quality=480p            query parameter value replaced
//	.../x.m3u8               quality query parameter set
//	.../video_720p.mp4       suffix replaced, underscore kept
//	.../720p/video.mp4       path segment replaced
//	.../video.mp4            _<quality> inserted before the extension
//
// A URI without any of these shapes and no extension is returned unchanged.
func BuildQualityURI(base, quality string) string {
	if loc := qualityParam.FindStringIndex(base); loc != nil {
		return base[:loc[0]] + "quality=" + quality + base[loc[1]:]
	}

	if strings.Contains(base, ".m3u8") {
		clean, query, _ := strings.Cut(base, "?")
		return clean + "?" + setQueryParam(query, "quality", quality)
	}

	if loc := qualitySuffix.FindStringSubmatchIndex(base); loc != nil {
		return base[:loc[2]] + quality + base[loc[3]:]
	}

	if loc := qualitySegment.FindStringSubmatchIndex(base); loc != nil {
		return base[:loc[2]] + quality + base[loc[3]:]
	}

	if loc := fileExtension.FindStringIndex(base); loc != nil {
		return base[:loc[0]] + "_" + quality + base[loc[0]:]
	}
	return base
}

// setQueryParam replaces key in a raw query, or appends it, keeping the order of the other pairs.
func setQueryParam(query, key, value string) string {
	pair := key + "=" + value
	if query == "" {
		return pair
	}
	parts := strings.Split(query, "&")
	out := make([]string, 0, len(parts)+1)
	replaced := false
	for _, p := range parts {
		k, _, _ := strings.Cut(p, "=")
		if k != key {
			out = append(out, p)
			continue
		}
		if !replaced {
			out = append(out, pair)
			replaced = true
		}
	}
	if !replaced {
		out = append(out, pair)
	}
	return strings.Join(out, "&")
}

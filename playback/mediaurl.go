package playback

import (
	"regexp"
	"strings"
)

// Voice notes are stored behind a CDN that can transcode on delivery when
// asked through the URL path. Clips uploaded under a generic binary
// resource type need such a rewrite before most players can decode them.

var (
	uploadPathRe = regexp.MustCompile(`/upload/([^/]*/)?(.+)$`)
	cloudNameRe  = regexp.MustCompile(`res\.cloudinary\.com/([^/]+)`)
)

// transcodeVariant is the delivery transformation that requests a playable
// m4a container.
const transcodeVariant = "f_m4a,q_auto"

// hostedByCDN reports whether the URL points at the transcoding CDN.
func hostedByCDN(url string) bool {
	return strings.Contains(url, "cloudinary.com")
}

// publicID extracts the asset id (including any folder path) from a
// delivery URL. An existing transformation segment, recognizable by its
// commas, is skipped.
func publicID(url string) string {
	m := uploadPathRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	if m[1] != "" && strings.Contains(m[1], ",") {
		return m[2]
	}
	return m[1] + m[2]
}

func cloudName(url string) string {
	m := cloudNameRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// TranscodeURL rewrites a CDN URL to the video delivery endpoint with the
// m4a transformation. It returns "" when the URL is not rewritable.
func TranscodeURL(url string) string {
	if !hostedByCDN(url) {
		return ""
	}
	id := publicID(url)
	name := cloudName(url)
	if id == "" || name == "" {
		return ""
	}
	return "https://res.cloudinary.com/" + name + "/video/upload/" + transcodeVariant + "/" + id
}

// RawTransformURL adds the m4a transformation to a raw-endpoint delivery
// URL, the alternate path when the video endpoint rejects the asset. It
// returns "" when the URL has no raw upload segment or already carries the
// transformation.
func RawTransformURL(url string) string {
	if strings.Contains(url, transcodeVariant) {
		return ""
	}
	if !strings.Contains(url, "/raw/upload/") {
		return ""
	}
	return strings.Replace(url, "/raw/upload/", "/raw/upload/"+transcodeVariant+"/", 1)
}

// AbsoluteURL resolves a possibly relative media URL against the API base.
func AbsoluteURL(base, url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "file://") {
		return url
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasPrefix(url, "/") {
		return base + url
	}
	return base + "/" + url
}

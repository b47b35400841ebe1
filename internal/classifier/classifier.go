// Package classifier maps a raw user-agent string to one of a fixed set
// of device classes. It is pure and stateless: no I/O, no shared state.
package classifier

import "strings"

// Class is one of the fixed device categories a user-agent maps to.
type Class string

const (
	ClassAndroid         Class = "android"
	ClassIOS             Class = "ios"
	ClassTV              Class = "tv"
	ClassSTB             Class = "stb"
	ClassStreamingServer Class = "streaming_server"
	ClassDesktop         Class = "desktop"
	ClassOther           Class = "other"
)

// rule is one entry in the ordered substring table. First match wins,
// so order here is significant — stb is tested before tv because many
// set-top-box user-agents also contain "tv".
type rule struct {
	class      Class
	substrings []string
}

var rules = []rule{
	{ClassStreamingServer, []string{"lavf", "ffmpeg", "gstreamer", "curl", "wget", "okhttp"}},
	{ClassSTB, []string{"stb", "mag", "aura", "dune", "infomir"}},
	{ClassTV, []string{"smart-tv", "smarttv", "hbbtv", "webos", "tizen", "appletv"}},
	{ClassAndroid, []string{"android"}},
	{ClassIOS, []string{"iphone", "ipad", "ios", "cfnetwork", "darwin"}},
	{ClassDesktop, []string{"windows", "macintosh", "linux", "x11"}},
}

// Classify returns the device class for a raw user-agent string. It is
// total (every input maps to some class, ClassOther by default) and
// deterministic.
func Classify(userAgent string) Class {
	if userAgent == "" {
		return ClassOther
	}
	lower := strings.ToLower(userAgent)
	for _, r := range rules {
		for _, s := range r.substrings {
			if strings.Contains(lower, s) {
				return r.class
			}
		}
	}
	return ClassOther
}

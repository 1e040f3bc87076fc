// Package platform holds the per-network knowledge the capture pipeline
// needs: URL classification, canonicalization quirks, and the declarative
// selector and phrase tables used by the browser executor.
package platform

import (
	"net/url"
	"strings"

	"github.com/snapfeed/postshot/internal/capture"
)

// Detect maps a raw URL onto a supported platform. It returns false for
// anything the pipeline cannot capture; such URLs are rejected before a job
// is created.
func Detect(rawURL string) (capture.Platform, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	switch {
	case strings.Contains(host, "facebook.com"):
		return capture.PlatformFacebook, true
	case strings.Contains(host, "instagram.com"):
		return capture.PlatformInstagram, true
	case strings.Contains(host, "threads.net"), strings.Contains(host, "threads.com"):
		return capture.PlatformThreads, true
	default:
		return "", false
	}
}

// NormalizeURL canonicalizes platform domain quirks before navigation.
// Threads is reachable under two interchangeable domains; captures always
// go through threads.net.
func NormalizeURL(rawURL string, p capture.Platform) string {
	if p != capture.PlatformThreads {
		return rawURL
	}
	normalized := strings.Replace(rawURL, "https://www.threads.com/", "https://www.threads.net/", 1)
	return strings.Replace(normalized, "https://threads.com/", "https://www.threads.net/", 1)
}

// targetSelectors are the generic structural selectors polled when no
// URL-anchored match is found, ordered most to least specific.
var targetSelectors = map[capture.Platform][]string{
	capture.PlatformFacebook: {
		`div[role='article']`,
		`article`,
		`[data-pagelet*='FeedUnit']`,
	},
	capture.PlatformInstagram: {
		`article`,
		`main article`,
	},
	capture.PlatformThreads: {
		`div[data-pressable-container='true']`,
		`article`,
		`div[role='main'] article`,
		`main article`,
	},
}

// TargetSelectors returns the ordered structural selector list for a
// platform. The list is never empty for a supported platform.
func TargetSelectors(p capture.Platform) []string {
	return targetSelectors[p]
}

// anchorContainer is the structurally expected ancestor of a URL-anchored
// match, per platform.
var anchorContainers = map[capture.Platform]string{
	capture.PlatformFacebook:  `[role='article']`,
	capture.PlatformInstagram: `article`,
	capture.PlatformThreads:   `[data-pressable-container='true']`,
}

// AnchorContainer returns the closest-ancestor selector used when resolving
// the post container from a URL-anchored anchor element.
func AnchorContainer(p capture.Platform) string {
	return anchorContainers[p]
}

// contentLocators are the ordered platform-specific locators tried when
// extracting the post's body text; the first non-empty candidate wins, with
// the target's full text as fallback.
var contentLocators = map[capture.Platform][]string{
	capture.PlatformFacebook: {
		`div[data-ad-preview='message']`,
	},
	capture.PlatformInstagram: {
		`h1`,
		`ul li span`,
		`ul li div[dir='auto']`,
		`span[dir='auto']`,
	},
	capture.PlatformThreads: {
		`div[data-pressable-container='true'] span`,
	},
}

// ContentLocators returns the ordered content-text locator list for a
// platform.
func ContentLocators(p capture.Platform) []string {
	return contentLocators[p]
}

package platform

import "strings"

// URL path fragments associated with authentication and checkpoint flows.
var loginWallURLFragments = []string{
	"/login",
	"accounts/login",
	"checkpoint",
	"signup",
}

// Locale-spanning phrases that show up in sign-in prompts.
var loginWallPhrases = []string{
	"log in",
	"login",
	"sign up",
	"create new account",
	"log in to continue",
	"continue with facebook",
	"continue with instagram",
}

// PageSignals is the read-only page state the login-wall classifier
// inspects.
type PageSignals struct {
	URL   string
	Title string
	Text  string
}

// IsLikelyLoginWall reports whether the page is an authentication barrier
// rather than the post itself. Pure function of the signals; no side
// effects.
func IsLikelyLoginWall(sig PageSignals) bool {
	normalizedURL := strings.ToLower(sig.URL)
	for _, fragment := range loginWallURLFragments {
		if strings.Contains(normalizedURL, fragment) {
			return true
		}
	}

	haystack := strings.ToLower(sig.Title + " " + sig.Text)
	for _, phrase := range loginWallPhrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}

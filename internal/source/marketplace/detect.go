package marketplace

import (
	"bytes"
	"errors"
)

var (
	// ErrFetchExhausted is returned when every attempt for a search term failed.
	ErrFetchExhausted = errors.New("fetch attempts exhausted")

	// ErrBlocked marks a successful response whose body is a challenge or block
	// page rather than search results.
	ErrBlocked = errors.New("blocked by upstream")
)

var blockedHints = [][]byte{
	[]byte("attention required"),
	[]byte("verify you are human"),
	[]byte("access denied"),
	[]byte("just a moment"),
	[]byte("checking your browser"),
	[]byte("challenge-platform"),
	[]byte("cf-browser-verification"),
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("too many requests"),
	[]byte("rate limited"),
}

// blockHint returns the first challenge marker found in body, or "".
// Result pages are only sniffed when they carry no listing rows, so a title
// that happens to contain one of the phrases does not trip it.
func blockHint(body []byte) string {
	if bytes.Contains(body, []byte(`id="dRow"`)) || bytes.Contains(body, []byte(`id='dRow'`)) {
		return ""
	}
	lower := bytes.ToLower(body)
	for _, hint := range blockedHints {
		if bytes.Contains(lower, hint) {
			return string(hint)
		}
	}
	return ""
}

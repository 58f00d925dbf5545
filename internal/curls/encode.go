package curls

import (
	"strings"

	"github.com/minio/sha256-simd"
	"github.com/multiformats/go-base32"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/bidi"
)

const (
	// MaxLabelLength is the longest DNS label allowed by RFC 1035.
	MaxLabelLength = 63

	// FallbackLength is the length of every fallback label: a 256 bit
	// digest in 5 bit symbols, the last one carrying 4 zero bits.
	FallbackLength = 52
)

// Kind tells which derivation produced a label.
type Kind int

const (
	KindReadable Kind = iota
	KindFallback
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindReadable:
		return "readable"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result is a label together with the derivation used for it.
type Result struct {
	Label string
	Kind  Kind
}

var lowerBase32 = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Encode returns the cache subdomain label for host. It never fails.
func Encode(host string) string {
	return EncodeDetailed(host).Label
}

// EncodeDetailed is Encode plus the derivation that was used.
func EncodeDetailed(host string) Result {
	ascii := toASCII(host)
	if eligible(ascii) {
		// The post-transform length is authoritative: a readable label is
		// never truncated.
		if label, ok := readable(ascii); ok && len(label) <= MaxLabelLength {
			return Result{Label: label, Kind: KindReadable}
		}
	}
	return Result{Label: Fallback(host), Kind: KindFallback}
}

// Fallback returns the opaque label for host regardless of eligibility.
func Fallback(host string) string {
	ascii, err := idna.Punycode.ToASCII(host)
	if err != nil {
		ascii = host
	}
	sum := sha256.Sum256([]byte(strings.ToLower(ascii)))
	return lowerBase32.EncodeToString(sum[:])
}

// toASCII returns the punycode form of a Unicode host. ASCII hosts and
// hosts punycode cannot encode are returned unchanged.
func toASCII(host string) string {
	ascii, err := idna.Punycode.ToASCII(strings.ToLower(host))
	if err != nil {
		return host
	}
	return ascii
}

// eligible checks the ASCII host, not the transformed label.
func eligible(host string) bool {
	if len(host) > MaxLabelLength || !strings.Contains(host, ".") {
		return false
	}
	unicode, err := idna.Punycode.ToUnicode(host)
	if err != nil {
		return false
	}
	return !mixedDirection(unicode)
}

func readable(host string) (string, bool) {
	unicode, err := idna.Punycode.ToUnicode(host)
	if err != nil {
		return "", false
	}
	label := strings.ReplaceAll(unicode, "-", "--")
	label = strings.ReplaceAll(label, ".", "-")

	ascii, err := idna.Punycode.ToASCII(label)
	if err != nil {
		return "", false
	}
	return strings.ToLower(ascii), true
}

// mixedDirection reports whether s holds both strong left-to-right and
// strong right-to-left characters.
func mixedDirection(s string) bool {
	var ltr, rtl bool
	for _, r := range s {
		props, _ := bidi.LookupRune(r)
		switch props.Class() {
		case bidi.L:
			ltr = true
		case bidi.R, bidi.AL:
			rtl = true
		}
		if ltr && rtl {
			return true
		}
	}
	return false
}

// Package curls derives the AMP cache subdomain label for a publisher host.
//
// The label is either human readable or an opaque fallback:
//
//	something.com     -> something-com
//	hello-world.com   -> hello--world-com
//	hello--world.com  -> hello----world-com
//	localhost         -> <52 char base32 sha256 digest>
//
// Human readable labels are produced by decoding the host from punycode,
// doubling every "-", turning every "." into "-", re-encoding to punycode and
// lower-casing. The fallback is used when the host has no ".", is longer than
// 63 characters, mixes left-to-right and right-to-left characters, or when the
// readable label itself would exceed 63 characters. It is the SHA-256 of the
// lower-cased ASCII host encoded with the lowercase RFC 4648 base32 alphabet
// and no padding.
//
// Example Usage:
//
//	label := curls.Encode("www.ampproject.org") // "www-ampproject-org"
//	res := curls.EncodeDetailed("localhost")
//	log.Println(res.Label, res.Kind) // "...", "fallback"
package curls

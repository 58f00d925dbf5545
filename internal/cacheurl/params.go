package cacheurl

import "strings"

// Param is a single init parameter.
type Param struct {
	Key   string `json:"key" yaml:"key" toml:"key"`
	Value string `json:"value" yaml:"value" toml:"value"`
}

// InitParams is an ordered list of session init parameters carried in the
// cache URL fragment. Order is preserved on output. Set and Add return a
// new list and never modify the receiver.
type InitParams []Param

// NewInitParams builds params from alternating key, value arguments. A
// trailing key without a value is ignored.
func NewInitParams(kv ...string) InitParams {
	p := make(InitParams, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		p = p.Set(kv[i], kv[i+1])
	}
	return p
}

// Set replaces the value of key, keeping its position, or appends it.
func (p InitParams) Set(key, value string) InitParams {
	for i := range p {
		if p[i].Key == key {
			out := p.clone(0)
			out[i].Value = value
			return out
		}
	}
	return append(p.clone(1), Param{Key: key, Value: value})
}

// Add appends key even when it is already present.
func (p InitParams) Add(key, value string) InitParams {
	return append(p.clone(1), Param{Key: key, Value: value})
}

func (p InitParams) clone(extra int) InitParams {
	out := make(InitParams, len(p), len(p)+extra)
	copy(out, p)
	return out
}

// Get returns the value for the first occurrence of key.
func (p InitParams) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Encode serializes the params as key=value pairs joined by "&". Empty
// values are omitted entirely.
func (p InitParams) Encode() string {
	var sb strings.Builder
	for _, kv := range p {
		if kv.Value == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(EscapeComponent(kv.Key))
		sb.WriteByte('=')
		sb.WriteString(EscapeComponent(kv.Value))
	}
	return sb.String()
}

const upperhex = "0123456789ABCDEF"

// EscapeComponent percent-encodes s the way browsers encode a URI
// component: letters, digits and -_.!~*'() are kept, every other byte of
// the UTF-8 encoding becomes %XX.
func EscapeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	buf := make([]byte, 0, len(s)+2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '%', upperhex[c>>4], upperhex[c&15])
	}
	return string(buf)
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

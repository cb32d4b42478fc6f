package inverter

import (
	"net/url"
	"strings"

	"github.com/gotextsearch/memindex/internal/schema"
)

// sentinelBegin and sentinelEnd bracket the Hostname sub-stream so a
// query can distinguish "this document has a hostname value" from
// "no value was ever staged", per §4.4.2's "hostname stream with
// sentinel begin/end markers". Neither byte sequence can collide with
// a real hostname label (labels never contain NUL).
var (
	sentinelBegin = []byte("\x00BEGIN\x00")
	sentinelEnd   = []byte("\x00END\x00")
)

// defaultPort reports the scheme's well-known port: an explicit
// default port carries no discriminating information and is dropped
// from the Port/All sub-streams (§8 scenario 5: "u.port does NOT
// contain \"80\"" for an http URL).
func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// URLInverter fans a single URL-typed field out into the eight
// sub-streams §4.4.2 assigns it: the seven schema.URISubfields members
// (All, Scheme, Host, Port, Path, Query, Fragment) plus a Hostname
// stream sandwiched between sentinel markers.
type URLInverter struct {
	All      *FieldInverter
	Scheme   *FieldInverter
	Host     *FieldInverter
	Port     *FieldInverter
	Path     *FieldInverter
	Query    *FieldInverter
	Fragment *FieldInverter
	Hostname *FieldInverter
}

// NewURLInverter allocates the eight sub-stream inverters.
func NewURLInverter() *URLInverter {
	return &URLInverter{
		All:      NewFieldInverter(),
		Scheme:   NewFieldInverter(),
		Host:     NewFieldInverter(),
		Port:     NewFieldInverter(),
		Path:     NewFieldInverter(),
		Query:    NewFieldInverter(),
		Fragment: NewFieldInverter(),
		Hostname: NewFieldInverter(),
	}
}

// splitNonAlnum tokenizes s on any run of non-alphanumeric bytes,
// dropping empty tokens: used for host labels, path segments and
// query key/value pairs, the sub-streams §8 scenario 5 expects to
// yield more than one token from a single raw value (e.g.
// "host.example" -> "host", "example").
func splitNonAlnum(s string) []string {
	var tokens []string
	start := -1
	isAlnum := func(b byte) bool {
		return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
	}
	for i := 0; i < len(s); i++ {
		if isAlnum(s[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// ProcessURL parses raw and stages every sub-stream's tokens for doc's
// elemID/weight element. A URL that fails to parse still stages raw
// whole into All, since All is defined to hold regardless of parse
// success.
func (u *URLInverter) ProcessURL(doc uint32, elemID, weight uint32, raw string) {
	stage := func(fi *FieldInverter, tokens ...string) {
		nonEmpty := tokens[:0]
		for _, t := range tokens {
			if t != "" {
				nonEmpty = append(nonEmpty, t)
			}
		}
		if len(nonEmpty) == 0 {
			return
		}
		fi.StartDoc(doc)
		fi.StartElement(elemID, weight)
		for i, t := range nonEmpty {
			fi.stageTerm([]byte(t), uint32(i))
		}
		fi.EndElement()
		fi.EndDoc()
	}
	stageSentinel := func(fi *FieldInverter, value string) {
		if value == "" {
			return
		}
		fi.StartDoc(doc)
		fi.StartElement(elemID, weight)
		fi.stageTerm(append([]byte(nil), sentinelBegin...), 0)
		fi.stageTerm([]byte(value), 1)
		fi.stageTerm(append([]byte(nil), sentinelEnd...), 2)
		fi.EndElement()
		fi.EndDoc()
	}

	var all []string
	addAll := func(tokens ...string) {
		for _, t := range tokens {
			if t != "" {
				all = append(all, t)
			}
		}
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		addAll(raw)
		stage(u.All, all...)
		return
	}

	hostLabels := splitNonAlnum(parsed.Hostname())
	pathSegments := splitNonAlnum(parsed.Path)
	queryTokens := splitNonAlnum(parsed.RawQuery)
	scheme := parsed.Scheme
	fragment := parsed.Fragment

	stage(u.Scheme, scheme)
	stage(u.Host, hostLabels...)
	stage(u.Path, pathSegments...)
	stage(u.Query, queryTokens...)
	stage(u.Fragment, fragment)
	stageSentinel(u.Hostname, strings.ToLower(parsed.Hostname()))

	port := parsed.Port()
	var portToken string
	if port != "" && port != defaultPort(scheme) {
		portToken = port
		stage(u.Port, port)
	}

	addAll(scheme)
	addAll(hostLabels...)
	addAll(portToken)
	addAll(pathSegments...)
	addAll(queryTokens...)
	addAll(fragment)
	stage(u.All, all...)
}

// PushAll pushes every sub-stream through its matching inserter, keyed
// by the sub-field names the schema assigned this URI field group.
func (u *URLInverter) PushAll(sub schema.URISubfields, push func(subfieldName string, fi *FieldInverter) error) error {
	subs := []struct {
		name string
		fi   *FieldInverter
	}{
		{sub.All, u.All},
		{sub.Scheme, u.Scheme},
		{sub.Host, u.Host},
		{sub.Port, u.Port},
		{sub.Path, u.Path},
		{sub.Query, u.Query},
		{sub.Fragment, u.Fragment},
		{sub.Hostname, u.Hostname},
	}
	for _, s := range subs {
		if err := push(s.name, s.fi); err != nil {
			return err
		}
	}
	return nil
}

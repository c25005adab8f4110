// Package tagger decides whether a page URL carries the per-tab session
// marker and, when it does not, builds the replacement URL that does.
//
// The decision is a pure function over a URL value. Hosts (the browser model,
// the HTTP middleware) execute the resulting Decision; the tagger itself never
// performs navigation.
package tagger

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DefaultKey is the query parameter name that carries the session marker.
const DefaultKey = "_sid"

// ErrNilURL is returned when Tag is called without a URL.
var ErrNilURL = errors.New("tagger: nil url")

// Action tells the host what to do with a Decision.
type Action int

const (
	// ActionNone means the URL already carries the marker.
	ActionNone Action = iota
	// ActionReplace means the host must navigate to Decision.URL, replacing
	// the current history entry rather than appending a new one.
	ActionReplace
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionReplace:
		return "replace"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the outcome of Tag.
type Decision struct {
	URL    *url.URL // resulting URL; always a copy of the input
	Action Action
	Token  string // minted token, empty when Action is ActionNone
}

// Tagged reports whether a new marker was minted.
func (d Decision) Tagged() bool { return d.Action == ActionReplace }

// Generator mints marker values.
type Generator interface {
	NewToken() (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() (string, error)

func (f GeneratorFunc) NewToken() (string, error) { return f() }

// UUIDGenerator mints random (version 4) UUIDs. Rand overrides the
// randomness source; when nil, crypto/rand is used.
type UUIDGenerator struct {
	Rand io.Reader
}

func (g UUIDGenerator) NewToken() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g.Rand != nil {
		id, err = uuid.NewRandomFromReader(g.Rand)
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("tagger: generate token: %w", err)
	}
	return id.String(), nil
}

// Option configures a Tagger.
type Option func(*Tagger)

// WithKey sets the marker key. Empty keys are ignored.
func WithKey(key string) Option {
	return func(t *Tagger) {
		if key != "" {
			t.key = key
		}
	}
}

// WithGenerator sets the token source.
func WithGenerator(g Generator) Option {
	return func(t *Tagger) {
		if g != nil {
			t.gen = g
		}
	}
}

// Tagger is safe for concurrent use as long as its Generator is.
type Tagger struct {
	key string
	gen Generator
}

// New returns a Tagger using DefaultKey and UUIDGenerator unless overridden.
func New(opts ...Option) *Tagger {
	t := &Tagger{
		key: DefaultKey,
		gen: UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Key returns the marker key.
func (t *Tagger) Key() string { return t.key }

// Has reports whether u carries the marker key. A key with an empty value
// (`?_sid=` or `?_sid`) counts as present.
func (t *Tagger) Has(u *url.URL) bool {
	_, ok := t.Lookup(u)
	return ok
}

// Lookup returns the value of the first marker pair in u.
func (t *Tagger) Lookup(u *url.URL) (string, bool) {
	if u == nil {
		return "", false
	}
	return lookup(u.RawQuery, t.key)
}

// Tag ensures the marker is present. The input is never modified.
func (t *Tagger) Tag(u *url.URL) (Decision, error) {
	if u == nil {
		return Decision{}, ErrNilURL
	}
	out := cloneURL(u)
	if t.Has(u) {
		return Decision{URL: out, Action: ActionNone}, nil
	}

	token, err := t.gen.NewToken()
	if err != nil {
		return Decision{}, err
	}
	if token == "" {
		return Decision{}, errors.New("tagger: generator returned an empty token")
	}

	out.RawQuery = appendPair(u.RawQuery, t.key, token)
	out.ForceQuery = false
	return Decision{URL: out, Action: ActionReplace, Token: token}, nil
}

// lookup scans a raw query the way URLSearchParams does: pairs split on '&',
// key and value split on the first '='. Undecodable escapes are compared raw.
func lookup(rawQuery, key string) (string, bool) {
	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if unescape(k) == key {
			return unescape(v), true
		}
	}
	return "", false
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// appendPair keeps the existing query bytes untouched so parameter order and
// encoding survive; url.Values.Encode would sort the keys.
func appendPair(rawQuery, key, value string) string {
	pair := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	switch {
	case rawQuery == "":
		return pair
	case strings.HasSuffix(rawQuery, "&"):
		return rawQuery + pair
	default:
		return rawQuery + "&" + pair
	}
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

package browser

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/archdash/sessiontag/internal/tagger"
)

// DefaultMaxRedirects bounds how many script-initiated navigations a single
// Navigate or Reload may chain before giving up.
const DefaultMaxRedirects = 20

// ErrNavigationLoop is returned when on-load scripts keep navigating.
var ErrNavigationLoop = errors.New("browser: too many script navigations")

// Mode selects how a navigation affects history.
type Mode int

const (
	ModePush Mode = iota
	ModeReplace
)

// Navigation is an instruction issued by a page script.
type Navigation struct {
	URL  *url.URL
	Mode Mode
}

// Page is what on-load hooks see: the URL the page was loaded under.
type Page struct {
	URL *url.URL
}

// OnLoadHook runs synchronously when a page loads. Returning a non-nil
// Navigation tears the page down: later hooks do not run and the navigation
// is carried out, which loads a new page.
type OnLoadHook func(p Page) (*Navigation, error)

// Tab is one browser tab. It is not safe for concurrent use.
type Tab struct {
	history      *History
	hooks        []OnLoadHook
	maxRedirects int
	loads        int
}

// NewTab returns an empty tab that runs hooks, in order, on every page load.
func NewTab(hooks ...OnLoadHook) *Tab {
	return &Tab{
		history:      NewHistory(),
		hooks:        hooks,
		maxRedirects: DefaultMaxRedirects,
	}
}

// History exposes the tab's session history.
func (t *Tab) History() *History { return t.history }

// Loads returns how many page loads the tab has performed.
func (t *Tab) Loads() int { return t.loads }

// Location returns the current URL.
func (t *Tab) Location() (*url.URL, error) { return t.history.Current() }

// Navigate performs a user navigation to u (a new history entry) and loads it.
func (t *Tab) Navigate(u *url.URL) error {
	t.history.Push(u)
	return t.load()
}

// Reload loads the current entry again.
func (t *Tab) Reload() error {
	if t.history.Index() < 0 {
		return ErrNoEntry
	}
	return t.load()
}

// Back goes one entry back and loads it. It is a no-op at the start of history.
func (t *Tab) Back() error {
	if !t.history.Back() {
		return nil
	}
	return t.load()
}

func (t *Tab) load() error {
	for hop := 0; ; hop++ {
		if hop > t.maxRedirects {
			return ErrNavigationLoop
		}
		cur, err := t.history.Current()
		if err != nil {
			return err
		}
		t.loads++

		nav, err := t.runHooks(Page{URL: cur})
		if err != nil {
			return err
		}
		if nav == nil {
			return nil
		}
		switch nav.Mode {
		case ModeReplace:
			t.history.Replace(nav.URL)
		default:
			t.history.Push(nav.URL)
		}
	}
}

func (t *Tab) runHooks(p Page) (*Navigation, error) {
	for i, hook := range t.hooks {
		nav, err := hook(p)
		if err != nil {
			return nil, fmt.Errorf("browser: on-load hook %d: %w", i, err)
		}
		if nav != nil {
			if nav.URL == nil {
				return nil, fmt.Errorf("browser: on-load hook %d: navigation without url", i)
			}
			return nav, nil
		}
	}
	return nil, nil
}

// TaggerHook turns the session tagger into an on-load script: untagged pages
// are replaced by their tagged form, tagged pages are left alone.
func TaggerHook(tg *tagger.Tagger) OnLoadHook {
	return func(p Page) (*Navigation, error) {
		d, err := tg.Tag(p.URL)
		if err != nil {
			return nil, err
		}
		if d.Action != tagger.ActionReplace {
			return nil, nil
		}
		return &Navigation{URL: d.URL, Mode: ModeReplace}, nil
	}
}

package typeahead

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"logbook/api/internal/doctree"
)

var (
	ErrMenuClosed = errors.New("typeahead menu is closed")
	ErrNoOption   = errors.New("no such option")
)

type State int

const (
	Closed State = iota
	DefaultMenu
	FilteredResults
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case DefaultMenu:
		return "default_menu"
	case FilteredResults:
		return "filtered_results"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Key int

const (
	KeyUp Key = iota
	KeyDown
	KeyEnter
	KeyEscape
)

// Option is one menu row. Category options carry Category; result options carry Candidate.
type Option struct {
	Label     string               `json:"label"`
	Category  doctree.EntityType   `json:"category,omitempty"`
	Candidate *doctree.Mentionable `json:"candidate,omitempty"`
}

// TaskKey identifies a resolution. Session changes every time the menu opens, so a task issued
// for an earlier menu never matches a later one.
type TaskKey struct {
	Session uint64
	Type    doctree.EntityType
	Query   string
}

// Resolution is the outcome of a resolution task.
type Resolution struct {
	Key     TaskKey
	Results []doctree.Mentionable
	Err     error
}

// PortalLocator returns the container the menu renders into, or false when the editing surface
// currently has none.
type PortalLocator func() (target string, ok bool)

// MenuView is what the host surface draws.
type MenuView struct {
	Visible     bool     `json:"visible"`
	Target      string   `json:"target,omitempty"`
	State       string   `json:"state"`
	Options     []Option `json:"options"`
	Highlighted int      `json:"highlighted"`
	Loading     bool     `json:"loading"`
}

// Controller runs the typeahead state machine for one editor. Its methods must be called from
// the goroutine that owns the editor; resolution tasks run in the background and deliver their
// results on Resolutions, to be handed back through Apply.
type Controller struct {
	editor     *doctree.Editor
	resolver   *Resolver
	candidates []doctree.Mentionable
	portal     PortalLocator

	state       State
	session     uint64
	match       *Match
	entityType  doctree.EntityType
	options     []Option
	highlighted int
	loading     bool
	current     TaskKey

	cancel    context.CancelFunc
	results   chan Resolution
	done      chan struct{}
	closeOnce sync.Once
}

func NewController(editor *doctree.Editor, resolver *Resolver, candidates []doctree.Mentionable, portal PortalLocator) *Controller {
	if resolver == nil {
		resolver = NewResolver(DefaultLatency)
	}
	return &Controller{
		editor:     editor,
		resolver:   resolver,
		candidates: candidates,
		portal:     portal,
		results:    make(chan Resolution, 16),
		done:       make(chan struct{}),
	}
}

func (c *Controller) State() State {
	return c.state
}

// Query is the query of the active trigger, empty when closed.
func (c *Controller) Query() string {
	if c.state == Closed || c.match == nil {
		return ""
	}
	return c.match.MatchingQuery
}

// EntityType is the chosen category, empty outside FilteredResults.
func (c *Controller) EntityType() doctree.EntityType {
	return c.entityType
}

// Resolutions delivers finished resolution tasks. Cancelled tasks deliver nothing.
func (c *Controller) Resolutions() <-chan Resolution {
	return c.results
}

// Update re-runs trigger detection after an edit or cursor move.
func (c *Controller) Update() {
	m := MatchMention(c.editor.TextBeforeCursor())
	if m == nil {
		c.close()
		return
	}
	previous := c.match
	c.match = m
	switch c.state {
	case Closed:
		c.open()
	case FilteredResults:
		if previous == nil || previous.MatchingQuery != m.MatchingQuery {
			c.issue()
		}
	}
}

// HandleKey applies a navigation key. Enter commits the highlighted option exactly as Select
// does and returns its result.
func (c *Controller) HandleKey(k Key) (*doctree.Node, error) {
	if c.state == Closed {
		return nil, nil
	}
	switch k {
	case KeyUp:
		if c.highlighted > 0 {
			c.highlighted--
		}
	case KeyDown:
		if c.highlighted < len(c.options)-1 {
			c.highlighted++
		}
	case KeyEnter:
		return c.Select(c.highlighted)
	case KeyEscape:
		c.close()
	}
	return nil, nil
}

// Select commits option i. In DefaultMenu it narrows to the chosen category and never touches
// the tree. In FilteredResults it replaces the trigger span with a mention, leaves the cursor
// after it and closes the menu; the inserted node is returned.
func (c *Controller) Select(i int) (*doctree.Node, error) {
	if c.state == Closed {
		return nil, ErrMenuClosed
	}
	if i < 0 || i >= len(c.options) {
		return nil, fmt.Errorf("%w: %d", ErrNoOption, i)
	}
	option := c.options[i]
	if c.state == DefaultMenu {
		return nil, c.narrow(option.Category)
	}

	node, err := doctree.MentionFrom(*option.Candidate)
	if err != nil {
		return nil, fmt.Errorf("select option: %w", err)
	}
	if err := c.editor.ReplaceBeforeCursor(c.match.SpanLength(), node); err != nil {
		return nil, fmt.Errorf("insert mention: %w", err)
	}
	c.close()
	return node, nil
}

// Apply hands a finished resolution back to the controller. It is applied only while results
// are shown and its key equals the current one; anything else is stale and dropped.
func (c *Controller) Apply(res Resolution) bool {
	if c.state != FilteredResults || res.Key != c.current {
		log.Debug().
			Uint64("session", res.Key.Session).
			Str("type", string(res.Key.Type)).
			Str("query", res.Key.Query).
			Msg("typeahead: stale resolution dropped")
		return false
	}
	c.loading = false
	c.highlighted = 0
	c.options = c.options[:0]
	if res.Err != nil {
		log.Warn().Err(res.Err).Str("type", string(res.Key.Type)).Msg("typeahead: resolution failed")
		return true
	}
	for _, candidate := range res.Results {
		c.options = append(c.options, Option{Label: candidate.Label, Candidate: &candidate})
	}
	return true
}

// Menu renders the current menu. The portal target is looked up on every call; without one the
// menu is invisible while the state machine carries on.
func (c *Controller) Menu() MenuView {
	view := MenuView{
		State:       c.state.String(),
		Options:     append([]Option(nil), c.options...),
		Highlighted: c.highlighted,
		Loading:     c.loading,
	}
	if c.state == Closed || c.portal == nil {
		return view
	}
	if target, ok := c.portal(); ok {
		view.Visible = true
		view.Target = target
	}
	return view
}

// Dispose closes the menu and stops delivering resolutions.
func (c *Controller) Dispose() {
	c.close()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Controller) open() {
	c.session++
	c.state = DefaultMenu
	c.entityType = ""
	c.highlighted = 0
	c.loading = false
	c.options = c.options[:0]
	for _, t := range Categories(c.candidates) {
		c.options = append(c.options, Option{Label: CategoryLabel(t), Category: t})
	}
}

func (c *Controller) narrow(entityType doctree.EntityType) error {
	if n := c.match.QueryLength(); n > 0 {
		if err := c.editor.ReplaceTextBeforeCursor(n, ""); err != nil {
			return fmt.Errorf("reset query: %w", err)
		}
		c.match = &Match{LeadOffset: c.match.LeadOffset, ReplaceableSpan: "@"}
	}
	c.state = FilteredResults
	c.entityType = entityType
	c.highlighted = 0
	c.options = c.options[:0]
	c.issue()
	return nil
}

func (c *Controller) close() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = Closed
	c.match = nil
	c.entityType = ""
	c.options = nil
	c.highlighted = 0
	c.loading = false
	c.current = TaskKey{}
}

func (c *Controller) issue() {
	if c.cancel != nil {
		c.cancel()
	}
	key := TaskKey{Session: c.session, Type: c.entityType, Query: c.match.MatchingQuery}
	c.current = key
	c.loading = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	resolver, candidates := c.resolver, c.candidates
	go func() {
		results, err := resolver.Resolve(ctx, candidates, key.Type, key.Query)
		if ctx.Err() != nil {
			return
		}
		select {
		case c.results <- Resolution{Key: key, Results: results, Err: err}:
		case <-c.done:
		}
	}()
}

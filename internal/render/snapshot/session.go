// Package snapshot implements render.Session over static HTML documents.
//
// Nested frames are read from the iframe srcdoc attribute. Clicking an
// element removes it and appends the body of the next queued page, which is
// how saved "load more" listings are replayed.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"adscraper/internal/render"
)

type Session struct {
	mu sync.Mutex

	doc     *goquery.Document
	pending []string
	frames  []*goquery.Document
	docs    map[*html.Node]*goquery.Document

	failFindAll int
	navigateErr error

	findAlls int
	queries  map[string]int
	waits    []time.Duration
	visited  []string
	clicks   int
	closed   bool
}

// New parses pages[0] as the initial document and queues the rest for Click.
func New(pages ...string) (*Session, error) {
	if len(pages) == 0 {
		pages = []string{""}
	}
	doc, err := parse(pages[0])
	if err != nil {
		return nil, err
	}
	return &Session{
		doc:     doc,
		pending: pages[1:],
		docs:    make(map[*html.Node]*goquery.Document),
		queries: make(map[string]int),
	}, nil
}

// FailFindAllAt makes the nth Session.FindAll call (1-based) return a transport error.
func (s *Session) FailFindAllAt(n int) { s.failFindAll = n }

// FailNavigate makes Navigate return err wrapped as a transport error.
func (s *Session) FailNavigate(err error) { s.navigateErr = err }

func (s *Session) Find(selector string) (render.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := match(s.current().Selection, selector)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, render.ErrNotFound
	}
	return &element{s: s, sel: sel.First()}, nil
}

func (s *Session) FindAll(selector string) ([]render.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findAlls++
	s.queries[selector]++
	if s.failFindAll > 0 && s.findAlls == s.failFindAll {
		return nil, render.TransportError("find all "+selector, fmt.Errorf("session lost"))
	}
	sel, err := match(s.current().Selection, selector)
	if err != nil {
		return nil, err
	}
	return s.wrap(sel), nil
}

func (s *Session) EnterFrame(frame render.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.unwrap(frame)
	if err != nil {
		return err
	}
	node := e.sel.Get(0)
	doc, ok := s.docs[node]
	if !ok {
		src, _ := e.sel.Attr("srcdoc")
		doc, err = parse(src)
		if err != nil {
			return render.TransportError("enter frame", err)
		}
		s.docs[node] = doc
	}
	s.frames = append(s.frames, doc)
	return nil
}

func (s *Session) ExitToTop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = s.frames[:0]
	return nil
}

func (s *Session) MarkProcessed(el render.Element, class string) error {
	return s.mutate(el, func(sel *goquery.Selection) { sel.AddClass(class) })
}

func (s *Session) ClearSubtree(el render.Element) error {
	return s.mutate(el, func(sel *goquery.Selection) { sel.Empty() })
}

func (s *Session) Remove(el render.Element) error {
	return s.mutate(el, func(sel *goquery.Selection) { sel.Remove() })
}

func (s *Session) Click(el render.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.unwrap(el)
	if err != nil {
		return err
	}
	s.clicks++
	e.sel.Remove()
	if len(s.pending) == 0 {
		return nil
	}
	next, err := parse(s.pending[0])
	if err != nil {
		return render.TransportError("load next page", err)
	}
	s.pending = s.pending[1:]
	s.doc.Find("body").AppendSelection(next.Find("body").Children())
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.visited = append(s.visited, url)
	if s.navigateErr != nil {
		return render.TransportError("navigate", s.navigateErr)
	}
	s.frames = s.frames[:0]
	return nil
}

// Wait records d and returns without sleeping.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// Queries returns how many times FindAll was called with selector.
func (s *Session) Queries(selector string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[selector]
}

func (s *Session) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

func (s *Session) Clicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// InFrame reports whether a frame context is currently entered.
func (s *Session) InFrame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) > 0
}

// HTML renders the top-level document.
func (s *Session) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, _ := goquery.OuterHtml(s.doc.Selection)
	return out
}

func (s *Session) current() *goquery.Document {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1]
	}
	return s.doc
}

func (s *Session) mutate(el render.Element, fn func(*goquery.Selection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.unwrap(el)
	if err != nil {
		return err
	}
	fn(e.sel)
	return nil
}

func (s *Session) wrap(sel *goquery.Selection) []render.Element {
	out := make([]render.Element, 0, sel.Length())
	sel.Each(func(_ int, one *goquery.Selection) {
		out = append(out, &element{s: s, sel: one})
	})
	return out
}

func (s *Session) unwrap(el render.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e.s != s {
		return nil, fmt.Errorf("element %T does not belong to this session", el)
	}
	return e, nil
}

type element struct {
	s   *Session
	sel *goquery.Selection
}

func (e *element) Find(selector string) (render.Element, error) {
	sel, err := match(e.sel, selector)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, render.ErrNotFound
	}
	return &element{s: e.s, sel: sel.First()}, nil
}

func (e *element) FindAll(selector string) ([]render.Element, error) {
	sel, err := match(e.sel, selector)
	if err != nil {
		return nil, err
	}
	return e.s.wrap(sel), nil
}

func (e *element) Attribute(name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// Text approximates rendered text: whitespace runs collapse to one space.
func (e *element) Text() (string, error) {
	return strings.Join(strings.Fields(e.sel.Text()), " "), nil
}

// Style reads the property from the inline style attribute.
func (e *element) Style(property string) (string, error) {
	style, _ := e.sel.Attr("style")
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), property) {
			return strings.TrimSpace(value), nil
		}
	}
	return "", nil
}

func match(root *goquery.Selection, selector string) (*goquery.Selection, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	return root.FindMatcher(m), nil
}

func parse(src string) (*goquery.Document, error) {
	node, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(node), nil
}

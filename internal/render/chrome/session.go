package chrome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"adscraper/internal/render"
)

type session struct {
	page     *rod.Page
	frames   []*rod.Page
	pageLoad time.Duration
}

func newSession(page *rod.Page, pageLoad time.Duration) *session {
	return &session{page: page, pageLoad: pageLoad}
}

func (s *session) current() *rod.Page {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1]
	}
	return s.page
}

func (s *session) Find(selector string) (render.Element, error) {
	ok, el, err := s.current().Has(selector)
	if err != nil {
		return nil, render.TransportError("find "+selector, err)
	}
	if !ok {
		return nil, render.ErrNotFound
	}
	return &element{el: el}, nil
}

func (s *session) FindAll(selector string) ([]render.Element, error) {
	els, err := s.current().Elements(selector)
	if err != nil {
		return nil, render.TransportError("find all "+selector, err)
	}
	return wrap(els), nil
}

func (s *session) EnterFrame(frame render.Element) error {
	e, err := unwrap(frame)
	if err != nil {
		return err
	}
	p, err := e.el.Frame()
	if err != nil {
		return render.TransportError("enter frame", err)
	}
	s.frames = append(s.frames, p)
	return nil
}

func (s *session) ExitToTop() error {
	s.frames = s.frames[:0]
	return nil
}

func (s *session) MarkProcessed(el render.Element, class string) error {
	return s.eval(el, "mark processed", `(c) => this.classList.add(c)`, class)
}

func (s *session) ClearSubtree(el render.Element) error {
	return s.eval(el, "clear subtree", `() => { this.innerHTML = "" }`)
}

func (s *session) Remove(el render.Element) error {
	e, err := unwrap(el)
	if err != nil {
		return err
	}
	if err := e.el.Remove(); err != nil {
		return render.TransportError("remove", err)
	}
	return nil
}

func (s *session) Click(el render.Element) error {
	e, err := unwrap(el)
	if err != nil {
		return err
	}
	if err := e.el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return render.TransportError("click", err)
	}
	return nil
}

func (s *session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if s.pageLoad > 0 {
		p = p.Timeout(s.pageLoad)
	}
	if err := p.Navigate(url); err != nil {
		return render.TransportError("navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		return render.TransportError("wait load", err)
	}
	s.frames = s.frames[:0]
	return nil
}

func (s *session) Wait(ctx context.Context, d time.Duration) error {
	return render.Sleep(ctx, d)
}

func (s *session) Close() error {
	return s.page.Close()
}

func (s *session) eval(el render.Element, op, js string, args ...any) error {
	e, err := unwrap(el)
	if err != nil {
		return err
	}
	if _, err := e.el.Eval(js, args...); err != nil {
		return render.TransportError(op, err)
	}
	return nil
}

type element struct {
	el *rod.Element
}

func (e *element) Find(selector string) (render.Element, error) {
	ok, el, err := e.el.Has(selector)
	if err != nil {
		return nil, render.TransportError("find "+selector, err)
	}
	if !ok {
		return nil, render.ErrNotFound
	}
	return &element{el: el}, nil
}

func (e *element) FindAll(selector string) ([]render.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, render.TransportError("find all "+selector, err)
	}
	return wrap(els), nil
}

func (e *element) Attribute(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, render.TransportError("attribute "+name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) Text() (string, error) {
	t, err := e.el.Text()
	if err != nil {
		return "", render.TransportError("text", err)
	}
	return t, nil
}

func (e *element) Style(property string) (string, error) {
	res, err := e.el.Eval(`(p) => window.getComputedStyle(this).getPropertyValue(p)`, property)
	if err != nil {
		return "", render.TransportError("style "+property, err)
	}
	return res.Value.Str(), nil
}

func wrap(els rod.Elements) []render.Element {
	out := make([]render.Element, len(els))
	for i, el := range els {
		out[i] = &element{el: el}
	}
	return out
}

var errForeignElement = errors.New("element does not belong to a chrome session")

func unwrap(el render.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errForeignElement, el)
	}
	return e, nil
}

// Package render defines the browser session contract the scraper drives.
//
// A Session tracks a single current frame context. Session.Find and
// Session.FindAll query the document of that context; Element lookups are
// scoped to the element. Implementations are not safe for concurrent use.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a selector matches nothing.
	ErrNotFound = errors.New("element not found")
	// ErrTransport marks failures that leave the session unusable.
	ErrTransport = errors.New("render session transport failure")
)

// TransportError wraps err so that errors.Is(err, ErrTransport) holds.
func TransportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

type Element interface {
	Find(selector string) (Element, error)
	FindAll(selector string) ([]Element, error)
	// Attribute returns the attribute value and whether it was present.
	Attribute(name string) (string, bool, error)
	Text() (string, error)
	// Style returns the computed value of a CSS property.
	Style(property string) (string, error)
}

type Session interface {
	Find(selector string) (Element, error)
	FindAll(selector string) ([]Element, error)

	EnterFrame(frame Element) error
	ExitToTop() error

	MarkProcessed(el Element, class string) error
	ClearSubtree(el Element) error
	Remove(el Element) error
	Click(el Element) error

	Navigate(ctx context.Context, url string) error
	Wait(ctx context.Context, d time.Duration) error
	Close() error
}

type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

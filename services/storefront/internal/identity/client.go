package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// EventKind is the kind of an auth state change.
type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

// AuthEvent is delivered to OnAuthStateChange listeners.
type AuthEvent struct {
	Kind   EventKind
	UserID string
}

// Listener reacts to an auth state change. A listener error is returned to
// whoever triggered the change.
type Listener func(ctx context.Context, evt AuthEvent) error

// Provider is the identity provider as seen by a cart session.
type Provider interface {
	CurrentUser() (string, bool)
	OnAuthStateChange(l Listener) (unsubscribe func())
}

// Client holds the signed-in user of one session and notifies listeners when
// it changes.
type Client struct {
	verifier *Verifier

	// changeMu serializes sign-in and sign-out so listeners see changes in
	// order and the recorded user only moves once they all succeed.
	changeMu sync.Mutex

	mu        sync.Mutex
	userID    string
	listeners map[int]Listener
	nextID    int
}

// NewClient creates a signed-out client.
func NewClient(verifier *Verifier) *Client {
	return &Client{
		verifier:  verifier,
		listeners: make(map[int]Listener),
	}
}

// CurrentUser returns the signed-in user id.
func (c *Client) CurrentUser() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.userID != ""
}

// OnAuthStateChange registers l and returns a function that removes it.
func (c *Client) OnAuthStateChange(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// SignIn verifies the access token and emits SignedIn. Its subject becomes
// the current user only when every listener accepted the change. Signing in
// again with a valid token re-emits the event so listeners can retry work
// that failed the first time.
func (c *Client) SignIn(ctx context.Context, accessToken string) (string, error) {
	claims, err := c.verifier.Verify(accessToken)
	if err != nil {
		return "", apperrors.New("UNAUTHORIZED", http.StatusUnauthorized, "invalid or expired access token",
			fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err))
	}

	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	if err := c.emit(ctx, AuthEvent{Kind: SignedIn, UserID: claims.Subject}); err != nil {
		return "", err
	}
	c.setUser(claims.Subject)
	return claims.Subject, nil
}

// SignOut emits SignedOut for the current user and clears it once every
// listener accepted the change. A rejected sign-out keeps the user signed in
// so it can be retried. Signing out while signed out does nothing.
func (c *Client) SignOut(ctx context.Context) error {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	prev, ok := c.CurrentUser()
	if !ok {
		return nil
	}
	if err := c.emit(ctx, AuthEvent{Kind: SignedOut, UserID: prev}); err != nil {
		return err
	}
	c.setUser("")
	return nil
}

func (c *Client) setUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) emit(ctx context.Context, evt AuthEvent) error {
	c.mu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()

	var errs []error
	for _, l := range ls {
		if err := l(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

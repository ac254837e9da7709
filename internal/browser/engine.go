// Package browser renders pages in a headless browser and returns the
// post-script DOM as HTML.
//
// Every render owns one browser process from launch to teardown. Processes
// are never pooled or shared between requests; concurrency is bounded by the
// Manager's admission semaphore instead.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrBusy is returned when no render slot frees up before the render deadline.
var ErrBusy = errors.New("headless render capacity exhausted")

// LaunchOptions configure a browser process.
type LaunchOptions struct {
	// Path overrides the browser executable. Empty uses the engine default.
	Path          string
	JSHeapMB      int
	SingleProcess bool
}

// PageOptions configure the single page of a render.
type PageOptions struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	IgnoreHTTPSErrors bool
	// BlockedResources are resource types whose requests are aborted,
	// e.g. "Image", "Stylesheet", "Font", "Media".
	BlockedResources []string
}

// DefaultBlockedResources are sub-resources a DOM snapshot does not need.
var DefaultBlockedResources = []string{"Image", "Stylesheet", "Font", "Media"}

// Engine starts browser processes.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Process, error)
}

// Process is one running browser. Close terminates it and must be safe to
// call after a failed or cancelled operation.
type Process interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Page is a browser tab.
type Page interface {
	// Navigate loads url and returns once the DOM has been parsed. status is
	// the HTTP status of the main document, or 0 when none was observed.
	Navigate(ctx context.Context, url string) (status int, err error)
	// HTML serializes the live DOM.
	HTML(ctx context.Context) (string, error)
}

// NavigationError reports a navigation that failed or produced a non-2xx
// main document.
type NavigationError struct {
	URL    string
	Status int // 0 when no response was observed
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigate %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("navigate %s: status %d", e.URL, e.Status)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// HTTPStatus is the status to report to the caller: the observed status, or
// 500 when none was observed.
func (e *NavigationError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// State is the lifecycle position of a Session.
type State int

const (
	Uninitialized State = iota
	Launching
	PageCreated
	NavigationInFlight
	ContentReady
	Closed
)

var stateNames = [...]string{
	Uninitialized:      "uninitialized",
	Launching:          "launching",
	PageCreated:        "page_created",
	NavigationInFlight: "navigation_in_flight",
	ContentReady:       "content_ready",
	Closed:             "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

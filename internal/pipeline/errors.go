package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNothingToSend ends a run when both buckets are empty and the config
// asks to skip empty newsletters. It is not a failure.
var ErrNothingToSend = errors.New("nothing to send")

// ErrRunInProgress is returned when a run is requested while another one is
// still going.
var ErrRunInProgress = errors.New("run already in progress")

// FeedFetchError means the feed could not be retrieved or parsed. Nothing is
// sent.
type FeedFetchError struct {
	URL string
	Err error
}

func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("feed fetch %s: %v", e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// RenderError means the newsletter template failed. Nothing is sent.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render newsletter: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// MailDeliveryError means the relay rejected or never received the message.
type MailDeliveryError struct {
	Recipients []string
	Err        error
}

func (e *MailDeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", strings.Join(e.Recipients, ","), e.Err)
}

func (e *MailDeliveryError) Unwrap() error { return e.Err }

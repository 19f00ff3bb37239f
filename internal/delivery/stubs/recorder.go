// Package stubs provides an in-memory delivery.Transport for tests
package stubs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"dripbot/internal/delivery"
)

// Message kinds recorded by Recorder
const (
	KindPhoto = "photo"
	KindVideo = "video"
	KindAlbum = "media_group"
	KindText  = "text"
)

// Sent is one successful outbound call
type Sent struct {
	Kind     string
	ChatID   int64
	Text     string // caption for media, body for text
	Media    []delivery.Media
	Keyboard delivery.Keyboard
}

// Recorder records outbound messages and issues fake file handles for uploads
type Recorder struct {
	mu       sync.Mutex
	sent     []Sent
	failures int

	// Fail, when set, is consulted before every send; a non-nil error fails the call
	Fail func(kind string, media []delivery.Media) error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// IssuedID is the handle the recorder returns for an uploaded path
func IssuedID(path string) string {
	return "fid-" + filepath.Base(path)
}

func (r *Recorder) record(kind string, chatID int64, text string, media []delivery.Media, kb delivery.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		if err := r.Fail(kind, media); err != nil {
			r.failures++
			return err
		}
	}
	r.sent = append(r.sent, Sent{
		Kind:     kind,
		ChatID:   chatID,
		Text:     text,
		Media:    append([]delivery.Media(nil), media...),
		Keyboard: kb,
	})
	return nil
}

func issued(m delivery.Media) string {
	if m.Cached() {
		return m.FileID
	}
	return IssuedID(m.Path)
}

func (r *Recorder) SendPhoto(ctx context.Context, chatID int64, photo delivery.Media, caption string, kb delivery.Keyboard) (string, error) {
	if err := r.record(KindPhoto, chatID, caption, []delivery.Media{photo}, kb); err != nil {
		return "", err
	}
	return issued(photo), nil
}

func (r *Recorder) SendVideo(ctx context.Context, chatID int64, video delivery.Media, caption string, kb delivery.Keyboard) (string, error) {
	if err := r.record(KindVideo, chatID, caption, []delivery.Media{video}, kb); err != nil {
		return "", err
	}
	return issued(video), nil
}

func (r *Recorder) SendMediaGroup(ctx context.Context, chatID int64, items []delivery.Media, caption string) ([]string, error) {
	if len(items) < 2 || len(items) > delivery.MaxAlbumSize {
		return nil, fmt.Errorf("media group must have 2..%d items, got %d", delivery.MaxAlbumSize, len(items))
	}
	if err := r.record(KindAlbum, chatID, caption, items, nil); err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, m := range items {
		ids[i] = issued(m)
	}
	return ids, nil
}

func (r *Recorder) SendText(ctx context.Context, chatID int64, text string, kb delivery.Keyboard) error {
	return r.record(KindText, chatID, text, nil, kb)
}

// Sent returns a copy of every successful call
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Sent(nil), r.sent...)
}

// Failures returns how many calls were failed by Fail
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.failures
}

// Reset forgets recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = nil
	r.failures = 0
}

package delivery

import (
	"context"

	"dripbot/internal/models"
)

// MaxAlbumSize is the most items Telegram accepts in one media group
const MaxAlbumSize = 10

// Media is one outbound photo or video.
// FileID is a cached Telegram handle; when it is empty Path is uploaded.
type Media struct {
	Type      models.MediaType
	FileID    string
	Path      string
	Duration  int
	Width     int
	Height    int
	ThumbPath string
}

// Cached reports whether the media is sent by handle
func (m Media) Cached() bool {
	return m.FileID != ""
}

// Button is an inline button. Exactly one of Data (callback) and URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard, one slice per row
type Keyboard [][]Button

// CallbackKeyboard is a single button that sends data back to the bot
func CallbackKeyboard(text, data string) Keyboard {
	return Keyboard{{{Text: text, Data: data}}}
}

// LinkKeyboard puts every link button on its own row. Returns nil when there are none.
func LinkKeyboard(buttons []models.Button) Keyboard {
	var kb Keyboard
	for _, b := range buttons {
		if b.Text == "" || b.URL == "" {
			continue
		}
		kb = append(kb, []Button{{Text: b.Text, URL: b.URL}})
	}
	return kb
}

// Transport is the messaging platform.
// Photo and video sends return the file handle Telegram issued for the payload.
// SendMediaGroup returns one handle per item, in order.
type Transport interface {
	SendPhoto(ctx context.Context, chatID int64, photo Media, caption string, kb Keyboard) (string, error)
	SendVideo(ctx context.Context, chatID int64, video Media, caption string, kb Keyboard) (string, error)
	SendMediaGroup(ctx context.Context, chatID int64, items []Media, caption string) ([]string, error)
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error
}

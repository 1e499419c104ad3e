// Package telegram adapts the Bot API client to the pipeline's Source and
// Sender capabilities and holds the bot's user-facing texts.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/mkvpress/internal/pipeline"
)

const (
	StartText = "Welcome! Upload your video file (MKV format only) and I'll process it."
	HelpText  = "Send a video file in MKV format, and I'll process it for you.\n" +
		"/status shows your last result, /cancel stops the file being processed."
)

// Commands is the list registered with setMyCommands.
func Commands() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "help", Description: "Get help information"},
		{Command: "status", Description: "Show the last processed file"},
		{Command: "cancel", Description: "Cancel the file being processed"},
	}
}

// IncomingFromDocument maps an uploaded document to the pipeline descriptor.
func IncomingFromDocument(d *tgbotapi.Document) pipeline.IncomingFile {
	return pipeline.IncomingFile{
		ID:       d.FileID,
		MimeType: d.MimeType,
		Size:     int64(d.FileSize),
		Name:     d.FileName,
	}
}

type fileGetter interface {
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Source downloads files through the Bot API file endpoint.
type Source struct {
	api          fileGetter
	token        string
	fileEndpoint string
	client       *http.Client
}

func NewSource(bot *tgbotapi.BotAPI, fileEndpoint string) *Source {
	return newSource(bot, bot.Token, fileEndpoint, http.DefaultClient)
}

func newSource(api fileGetter, token, fileEndpoint string, client *http.Client) *Source {
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}
	return &Source{api: api, token: token, fileEndpoint: fileEndpoint, client: client}
}

func (s *Source) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	f, err := s.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("getFile: %w", err)
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("getFile: no file path for %s", fileID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(s.fileEndpoint, s.token, f.FilePath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

type chattableSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender uploads documents with the Bot API.
type Sender struct {
	api chattableSender
}

func NewSender(bot *tgbotapi.BotAPI) *Sender { return &Sender{api: bot} }

// SendDocument returns when the upload finishes or ctx ends, whichever comes
// first. The caller closing r aborts an upload left running after ctx ends.
func (s *Sender) SendDocument(ctx context.Context, dest pipeline.Destination, name string, r io.Reader, _ int64, caption string) (int, error) {
	doc := tgbotapi.NewDocument(dest.ChatID, tgbotapi.FileReader{Name: name, Reader: r})
	if dest.Username != "" {
		doc.ChatID = 0
		doc.ChannelUsername = dest.Username
	}
	doc.Caption = caption

	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := s.api.Send(doc)
		done <- result{m, err}
	}()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return 0, res.err
		}
		return res.msg.MessageID, nil
	}
}

// Notify sends a plain text message.
func Notify(api chattableSender, chatID int64, text string) error {
	_, err := api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

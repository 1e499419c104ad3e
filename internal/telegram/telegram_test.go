package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/mkvpress/internal/pipeline"
)

type fakeGetter struct {
	path string
	err  error
}

func (f fakeGetter) GetFile(c tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{FileID: c.FileID, FilePath: f.path}, f.err
}

func TestSourceDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/botTOKEN/documents/file_1.mkv" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "mkv-bytes")
	}))
	defer srv.Close()

	s := newSource(fakeGetter{path: "documents/file_1.mkv"}, "TOKEN", srv.URL+"/file/bot%s/%s", srv.Client())
	rc, err := s.Open(context.Background(), "BQAC")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "mkv-bytes" {
		t.Fatalf("body = %q", b)
	}
}

func TestSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	endpoint := srv.URL + "/file/bot%s/%s"

	if _, err := newSource(fakeGetter{path: "x"}, "T", endpoint, srv.Client()).Open(context.Background(), "id"); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := newSource(fakeGetter{err: errors.New("file is too big")}, "T", endpoint, srv.Client()).Open(context.Background(), "id"); err == nil {
		t.Fatalf("expected getFile error")
	}
	if _, err := newSource(fakeGetter{}, "T", endpoint, srv.Client()).Open(context.Background(), "id"); err == nil {
		t.Fatalf("expected empty path error")
	}
}

type fakeAPI struct {
	got   tgbotapi.Chattable
	body  string
	delay time.Duration
	err   error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	time.Sleep(f.delay)
	f.got = c
	if doc, ok := c.(tgbotapi.DocumentConfig); ok {
		if fr, ok := doc.File.(tgbotapi.FileReader); ok {
			b, _ := io.ReadAll(fr.Reader)
			f.body = string(b)
		}
	}
	return tgbotapi.Message{MessageID: 9}, f.err
}

func TestSenderSendDocument(t *testing.T) {
	api := &fakeAPI{}
	s := &Sender{api: api}

	id, err := s.SendDocument(context.Background(), pipeline.Destination{Username: "@chan"}, "a.mkv", strings.NewReader("data"), 4, "a")
	if err != nil || id != 9 {
		t.Fatalf("id=%d err=%v", id, err)
	}
	doc := api.got.(tgbotapi.DocumentConfig)
	if doc.ChannelUsername != "@chan" || doc.ChatID != 0 || doc.Caption != "a" {
		t.Fatalf("doc = %+v", doc.BaseChat)
	}
	if api.body != "data" {
		t.Fatalf("body = %q", api.body)
	}
}

func TestSenderHonoursContext(t *testing.T) {
	s := &Sender{api: &fakeAPI{delay: time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.SendDocument(ctx, pipeline.Destination{ChatID: 1}, "a.mkv", strings.NewReader(""), 0, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestIncomingFromDocument(t *testing.T) {
	f := IncomingFromDocument(&tgbotapi.Document{FileID: "BQ", MimeType: "video/x-matroska", FileSize: 100, FileName: "x.mkv"})
	if f != (pipeline.IncomingFile{ID: "BQ", MimeType: "video/x-matroska", Size: 100, Name: "x.mkv"}) {
		t.Fatalf("file = %+v", f)
	}
}

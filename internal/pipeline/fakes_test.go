package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wapuda/mkvpress/internal/proc"
)

// fakeSource counts Open calls and serves data, optionally failing midway
// or blocking until the context ends.
type fakeSource struct {
	mu        sync.Mutex
	calls     int
	data      []byte
	openErr   error
	failAfter int
	block     bool
}

var errConnReset = errors.New("connection reset by peer")

func (s *fakeSource) Open(ctx context.Context, _ string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.block {
		return io.NopCloser(ctxReader{ctx}), nil
	}
	if s.failAfter > 0 {
		return io.NopCloser(io.MultiReader(
			bytes.NewReader(s.data[:s.failAfter]),
			errReader{errConnReset},
		)), nil
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

type ctxReader struct{ ctx context.Context }

func (r ctxReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

// runnerFunc adapts a function to proc.Runner.
type runnerFunc func(ctx context.Context, name string, args []string, timeout time.Duration) (proc.Result, error)

func (f runnerFunc) Run(ctx context.Context, name string, args []string, timeout time.Duration) (proc.Result, error) {
	return f(ctx, name, args, timeout)
}

const probeJSON = `{"streams":[
 {"index":0,"codec_type":"video","codec_name":"h264"},
 {"index":1,"codec_type":"audio","codec_name":"aac"},
 {"index":2,"codec_type":"subtitle","codec_name":"ass"}]}`

// mediaRunner fakes ffprobe with probeOut/probeErr and ffmpeg by writing
// the output file (last argument) unless ffmpegExit is non-zero.
type mediaRunner struct {
	mu          sync.Mutex
	probeOut    string
	probeErr    string
	probeExit   int
	ffmpegExit  int
	ffmpegErr   string
	notStarted  bool
	ffmpegCalls int
	lastArgs    []string
}

func (m *mediaRunner) Run(_ context.Context, name string, args []string, _ time.Duration) (proc.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notStarted {
		return proc.Result{}, proc.ErrNotStarted
	}
	if name == "ffprobe" {
		return proc.Result{ExitCode: m.probeExit, Stdout: m.probeOut, Stderr: m.probeErr}, nil
	}
	m.ffmpegCalls++
	m.lastArgs = args
	out := args[len(args)-1]
	if m.ffmpegExit != 0 {
		_ = os.WriteFile(out, []byte("partial"), 0o600)
		return proc.Result{ExitCode: m.ffmpegExit, Stderr: m.ffmpegErr}, nil
	}
	if err := os.WriteFile(out, []byte("compressed"), 0o600); err != nil {
		return proc.Result{}, err
	}
	return proc.Result{}, nil
}

// recordingSender records deliveries and fails the first failN calls.
type recordingSender struct {
	mu      sync.Mutex
	failN   int
	calls   int
	sent    []sentDoc
	readers []io.Reader
}

type sentDoc struct {
	Dest    Destination
	Name    string
	Body    []byte
	Size    int64
	Caption string
}

func (s *recordingSender) SendDocument(_ context.Context, dest Destination, name string, r io.Reader, size int64, caption string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.readers = append(s.readers, r)
	if s.calls <= s.failN {
		return 0, errors.New("telegram: 502 bad gateway")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.sent = append(s.sent, sentDoc{Dest: dest, Name: name, Body: body, Size: size, Caption: caption})
	return 100 + s.calls, nil
}

// remaining lists every file left under dir.
func remaining(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return files
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// Source streams the bytes of a remote file. The reader must stop when ctx
// is done.
type Source interface {
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Fetcher downloads an upload into a run directory.
type Fetcher interface {
	Fetch(ctx context.Context, dir string, f IncomingFile) (*TransientAsset, error)
}

// SourceFetcher copies from a Source to dir/source<ext>, bounded in bytes by
// the policy size limit and in time by the policy fetch timeout.
type SourceFetcher struct {
	Source Source
	Policy Policy
}

func NewSourceFetcher(src Source, p Policy) *SourceFetcher {
	return &SourceFetcher{Source: src, Policy: p}
}

// localName derives the on-disk name from the accepted container type only;
// the sender-supplied display name never reaches the filesystem.
func localName(base, mime string) string {
	ext := ".bin"
	if m := mimetype.Lookup(mime); m != nil && m.Extension() != "" {
		ext = m.Extension()
	}
	return base + ext
}

func (sf *SourceFetcher) Fetch(ctx context.Context, dir string, f IncomingFile) (asset *TransientAsset, err error) {
	fetchCtx := ctx
	if sf.Policy.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, sf.Policy.FetchTimeout)
		defer cancel()
	}

	path := filepath.Join(dir, localName("source", sf.Policy.AllowedContainerType))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Kind: KindFetch, Message: "could not prepare local storage", Err: err}
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = &StageError{Stage: StageFetch, Kind: KindFetch, Message: "could not write the file", Err: cerr}
		}
		if err != nil {
			_ = os.Remove(path)
			asset = nil
		}
	}()

	rc, err := sf.Source.Open(fetchCtx, f.ID)
	if err != nil {
		return nil, fetchError(ctx, fetchCtx, err)
	}
	defer rc.Close()

	limit := sf.Policy.MaxFileSizeBytes
	r := io.Reader(rc)
	if limit < math.MaxInt64 {
		r = io.LimitReader(rc, limit+1)
	}
	n, err := io.Copy(out, r)
	if err != nil {
		return nil, fetchError(ctx, fetchCtx, err)
	}
	if n > limit {
		return nil, &StageError{
			Stage:   StageFetch,
			Kind:    KindValidation,
			Message: fmt.Sprintf("too large: download exceeded the %s limit", humanize.IBytes(uint64(limit))),
			Detail:  fmt.Sprintf("declared %d bytes, received more than %d", f.Size, limit),
		}
	}
	return &TransientAsset{Path: path, Size: n, Stage: StageFetch}, nil
}

func fetchError(parent, fetchCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return &StageError{Stage: StageFetch, Kind: KindCancelled, Message: "cancelled during download", Err: parent.Err()}
	case errors.Is(fetchCtx.Err(), context.DeadlineExceeded):
		return &StageError{Stage: StageFetch, Kind: KindFetch, Message: "download timed out", Err: err}
	default:
		return &StageError{Stage: StageFetch, Kind: KindFetch, Message: "download failed", Err: err}
	}
}

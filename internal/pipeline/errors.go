package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/AnyUserName/avifbatch/internal/encoder"
	"github.com/AnyUserName/avifbatch/internal/imagefile"
	"github.com/AnyUserName/avifbatch/internal/scorer"
)

// Kind classifies why a job did not produce an output.
type Kind string

const (
	KindNone              Kind = ""
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindDecode            Kind = "DecodeError"
	KindTooLarge          Kind = "TooLarge"
	KindEncode            Kind = "EncodeError"
	KindDimensionMismatch Kind = "DimensionMismatch"
	KindIO                Kind = "IOError"
	KindCancelled         Kind = "Cancelled"
)

// JobError is the failure of one stage of one job.
type JobError struct {
	Kind Kind
	Op   string // stage that failed: read, decode, encode, score, write
	Path string
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func newJobError(op, path string, err error) *JobError {
	return &JobError{Kind: classify(err), Op: op, Path: path, Err: err}
}

// KindOf returns the Kind carried by err, classifying bare errors by the
// sentinels they wrap.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var pe *fs.PathError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, imagefile.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, imagefile.ErrTooLarge):
		return KindTooLarge
	case errors.Is(err, imagefile.ErrDecode):
		return KindDecode
	case errors.Is(err, scorer.ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, encoder.ErrEncode):
		return KindEncode
	case errors.As(err, &pe):
		return KindIO
	}
	return KindIO
}

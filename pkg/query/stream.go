package query

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Decision is a handler's verdict after one record
type Decision int

const (
	// Continue asks for the next record. It is the zero value.
	Continue Decision = iota
	// Stop ends iteration normally.
	Stop
)

func (d Decision) String() string {
	if d == Stop {
		return "stop"
	}
	return "continue"
}

// Handler receives records in delivery order. Returning an error ends
// iteration with ErrConsumerAborted.
type Handler func(*types.Record) (Decision, error)

// aborter is implemented by streams that record why they were closed early
type aborter interface {
	Abort(err error) error
}

// Collect drains stream into a slice in delivery order and closes it.
func Collect(ctx context.Context, stream core.RecordStream) ([]*types.Record, error) {
	records := make([]*types.Record, 0)
	err := ForEach(ctx, stream, func(rec *types.Record) (Decision, error) {
		records = append(records, rec)
		return Continue, nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ForEach calls handler for each record until the stream ends, the handler
// returns Stop, or the handler fails. Stop returns nil. A handler error or
// panic returns an error wrapping ErrConsumerAborted and the cause. The
// stream is closed in every case.
func ForEach(ctx context.Context, stream core.RecordStream, handler Handler) (err error) {
	defer func() {
		closeStream(stream, err)
	}()

	for {
		rec, err := stream.Next(ctx)
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		decision, herr := invoke(handler, rec)
		if herr != nil {
			return fmt.Errorf("%w: %w", errors.ErrConsumerAborted, herr)
		}
		if decision == Stop {
			return nil
		}
	}
}

func invoke(handler Handler, rec *types.Record) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("record handler panicked: %v", r)
		}
	}()
	return handler(rec)
}

func closeStream(stream core.RecordStream, err error) {
	if a, ok := stream.(aborter); ok && errors.IsConsumerAborted(err) {
		_ = a.Abort(err)
		return
	}
	_ = stream.Close()
}

// CollectPage reads up to limit records. When more remain, the page carries
// a cursor that resumes after its last record.
func CollectPage(ctx context.Context, stream core.RecordStream, limit int) (*Page, error) {
	if limit <= 0 {
		_ = stream.Close()
		return nil, errors.Newf(errors.ErrInvalidArgument, "page limit must be positive, got %d", limit)
	}

	page := &Page{Records: make([]*types.Record, 0, limit)}
	err := ForEach(ctx, stream, func(rec *types.Record) (Decision, error) {
		if len(page.Records) == limit {
			page.HasMore = true
			return Stop, nil
		}
		page.Records = append(page.Records, rec)
		return Continue, nil
	})
	if err != nil {
		return nil, err
	}

	page.Count = len(page.Records)
	if page.HasMore {
		next, err := CursorAfter(page.Records[page.Count-1]).Encode()
		if err != nil {
			return nil, err
		}
		page.NextCursor = next
	}
	return page, nil
}

package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgerrcode"

	"github.com/justjake/pgfront/pkg/pgwire"
)

// runCopyIn drives copy-in mode: CopyInResponse, then incoming CopyData
// chunks pushed to the handler's sink until CopyDone or CopyFail. failed
// reports that the copy was aborted and the caller must stop the batch.
func (s *Session) runCopyIn(qctx context.Context, response *CopyInResponse) (failed bool, err error) {
	handler := s.service.handlers.Copy
	if handler == nil {
		s.sendError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.FeatureNotSupported,
			"COPY FROM STDIN not supported", nil))
		return true, nil
	}

	sink, err := handler.OnCopyIn(qctx, s, response.Metadata)
	if err != nil {
		s.sendError(s.handlerErr(qctx, err))
		return true, nil
	}

	if err := s.writer.Send(&pgwire.CopyInResponse{
		OverallFormat:     response.Metadata.OverallFormat,
		ColumnFormatCodes: response.Metadata.ColumnFormats,
	}); err != nil {
		return false, err
	}
	if err := s.writer.Flush(); err != nil {
		return false, err
	}

	for {
		msg, err := s.reader.Receive()
		if err != nil {
			_, _ = sink.Close(qctx, false)
			return false, err
		}

		switch msg := msg.(type) {
		case *pgwire.CopyData:
			if err := sink.Write(qctx, msg.Data); err != nil {
				_, _ = sink.Close(qctx, false)
				s.sendError(s.handlerErr(qctx, err))
				return true, s.drainCopyIn()
			}

		case *pgwire.CopyDone:
			rows, err := sink.Close(qctx, true)
			if err != nil {
				s.sendError(s.handlerErr(qctx, err))
				return true, nil
			}
			tag := response.Tag
			if tag == "" {
				tag = "COPY"
			}
			return false, s.writer.Send(&pgwire.CommandComplete{
				CommandTag: []byte(CommandTag(tag, rows)),
			})

		case *pgwire.CopyFail:
			_, _ = sink.Close(qctx, false)
			s.sendError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.QueryCanceled,
				fmt.Sprintf("COPY from stdin failed: %s", msg.Message), nil))
			return true, nil

		case *pgwire.Flush, *pgwire.Sync:
			// Ignored in copy-in mode, per protocol.

		default:
			_, _ = sink.Close(qctx, false)
			return false, fmt.Errorf("unexpected message %T in copy-in mode", msg)
		}
	}
}

// drainCopyIn consumes the remainder of an aborted copy-in stream so the
// connection can resynchronize at the next CopyDone or CopyFail.
func (s *Session) drainCopyIn() error {
	for {
		msg, err := s.reader.Receive()
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *pgwire.CopyData, *pgwire.Flush, *pgwire.Sync:
			// Discard.
		case *pgwire.CopyDone, *pgwire.CopyFail:
			return nil
		default:
			return fmt.Errorf("unexpected message %T in aborted copy-in mode", msg)
		}
	}
}

// runCopyOut drives copy-out mode: CopyOutResponse, then chunks pulled from
// the handler's source as CopyData, then CopyDone and CommandComplete. The
// writer's flush threshold yields to the socket so backpressure propagates
// to the source.
func (s *Session) runCopyOut(qctx context.Context, response *CopyOutResponse) error {
	source := response.Source
	if source == nil {
		s.sendError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.FeatureNotSupported,
			"COPY TO STDOUT not supported", nil))
		return nil
	}
	defer source.Close()

	if err := s.writer.Send(&pgwire.CopyOutResponse{
		OverallFormat:     response.Metadata.OverallFormat,
		ColumnFormatCodes: response.Metadata.ColumnFormats,
	}); err != nil {
		return err
	}

	for {
		chunk, err := source.Next(qctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Copy-out aborts by sending ErrorResponse and leaving copy mode.
			s.sendError(s.handlerErr(qctx, err))
			return nil
		}
		if err := s.writer.Send(&pgwire.CopyData{Data: chunk}); err != nil {
			return err
		}
	}

	if err := s.writer.Send(&pgwire.CopyDone{}); err != nil {
		return err
	}
	tag := response.Tag
	if tag == "" {
		tag = "COPY"
	}
	return s.writer.Send(&pgwire.CommandComplete{
		CommandTag: []byte(CommandTag(tag, source.Rows())),
	})
}

// runCopyBoth drives copy-both mode sequentially: the outgoing stream is
// sent first (ending with CopyDone), then incoming CopyData is consumed
// until the client's CopyDone or CopyFail.
func (s *Session) runCopyBoth(qctx context.Context, response *CopyBothResponse) (failed bool, err error) {
	if response.Source == nil || response.Sink == nil {
		s.sendError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.FeatureNotSupported,
			"copy-both mode not supported", nil))
		return true, nil
	}
	defer response.Source.Close()

	if err := s.writer.Send(&pgwire.CopyBothResponse{
		OverallFormat:     response.Metadata.OverallFormat,
		ColumnFormatCodes: response.Metadata.ColumnFormats,
	}); err != nil {
		return false, err
	}

	for {
		chunk, err := response.Source.Next(qctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.sendError(s.handlerErr(qctx, err))
			return true, s.drainCopyIn()
		}
		if err := s.writer.Send(&pgwire.CopyData{Data: chunk}); err != nil {
			return false, err
		}
	}
	if err := s.writer.Send(&pgwire.CopyDone{}); err != nil {
		return false, err
	}
	if err := s.writer.Flush(); err != nil {
		return false, err
	}

	for {
		msg, err := s.reader.Receive()
		if err != nil {
			_, _ = response.Sink.Close(qctx, false)
			return false, err
		}
		switch msg := msg.(type) {
		case *pgwire.CopyData:
			if err := response.Sink.Write(qctx, msg.Data); err != nil {
				_, _ = response.Sink.Close(qctx, false)
				s.sendError(s.handlerErr(qctx, err))
				return true, s.drainCopyIn()
			}
		case *pgwire.CopyDone:
			rows, err := response.Sink.Close(qctx, true)
			if err != nil {
				s.sendError(s.handlerErr(qctx, err))
				return true, nil
			}
			tag := response.Tag
			if tag == "" {
				tag = "COPY"
			}
			return false, s.writer.Send(&pgwire.CommandComplete{
				CommandTag: []byte(CommandTag(tag, rows)),
			})
		case *pgwire.CopyFail:
			_, _ = response.Sink.Close(qctx, false)
			s.sendError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.QueryCanceled,
				fmt.Sprintf("COPY failed: %s", msg.Message), nil))
			return true, nil
		case *pgwire.Flush, *pgwire.Sync:
		default:
			_, _ = response.Sink.Close(qctx, false)
			return false, fmt.Errorf("unexpected message %T in copy-both mode", msg)
		}
	}
}

// SendNotice pushes a NoticeResponse to the client outside the normal
// request/response flow.
func (s *Session) SendNotice(notice *pgwire.NoticeResponse) error {
	if err := s.writer.Send(notice); err != nil {
		return err
	}
	return s.writer.Flush()
}

// SendNotification delivers a NOTIFY payload to the client.
func (s *Session) SendNotification(channel, payload string) error {
	if err := s.writer.Send(&pgwire.NotificationResponse{
		PID:     s.pid,
		Channel: channel,
		Payload: payload,
	}); err != nil {
		return err
	}
	return s.writer.Flush()
}

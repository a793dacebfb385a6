package bootloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
)

// transfer is the record decoder state for one WriteFlash command.
type transfer struct {
	extended uint32
	pending  PendingWrite
	written  int
	faulted  bool
}

// receiveRecords reads frames until an EndOfFile record is processed.
// Every frame is answered with ACK or NACK. Only transport failures and
// cancellation end the loop early.
func (b *Bootloader) receiveRecords(ctx context.Context) error {
	var t transfer
	frame := make([]byte, protocol.MaxWireFrameSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.transport.Receive(frame[:1], b.config.RecordTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("receive record: %w", err)
		}

		size := int(frame[0]) + protocol.FrameOverhead
		err = b.transport.Receive(frame[1:size], b.config.RecordTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			b.log.Debug().Int("size", size).Msg("Timed out inside record")
			if err := b.respond(protocol.RespNack); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("receive record: %w", err)
		}

		rec, err := protocol.DecodeFrame(frame[:size])
		if err != nil {
			b.log.Warn().Err(err).Int("size", size).Msg("Record rejected")
			if err := b.respond(protocol.RespNack); err != nil {
				return err
			}
			continue
		}

		done, err := b.applyRecord(&t, rec)
		code := byte(protocol.RespAck)
		if err != nil {
			b.log.Warn().Err(err).Stringer("type", rec.Type).Msgf("Record type 0x%02X failed", frame[3])
			code = protocol.RespNack
		}
		if err := b.respond(code); err != nil {
			return err
		}

		if done {
			b.log.Info().Int("bytes", t.written).Bool("faulted", t.faulted).Msg("Write finished")
			return nil
		}
	}
}

// applyRecord interprets one valid record and reports whether the transfer ended.
func (b *Bootloader) applyRecord(t *transfer, rec *protocol.Record) (bool, error) {
	switch rec.Type {
	case protocol.RecordExtendedAddress:
		base, err := rec.ExtendedBase()
		if err != nil {
			return false, err
		}
		t.extended = base
		return false, nil

	case protocol.RecordData:
		if t.faulted {
			return false, ErrTransferFaulted
		}
		if err := t.pending.Append(t.extended|uint32(rec.Offset), rec.Data); err != nil {
			return false, err
		}
		if t.pending.Len() >= flash.DoubleWordSize {
			return false, b.flush(t)
		}
		return false, nil

	case protocol.RecordStartAddress:
		// Accepted for compatibility
		return false, nil

	case protocol.RecordEndOfFile:
		if t.faulted {
			return true, ErrTransferFaulted
		}
		if t.pending.Len() > 0 {
			t.pending.Pad()
			if err := b.flush(t); err != nil {
				return true, err
			}
		}
		if t.pending.Len() > 0 {
			b.log.Warn().
				Int("bytes", t.pending.Len()).
				Str("address", fmt.Sprintf("0x%08X", t.pending.Address)).
				Msg("Discarding bytes above the erase watermark")
		}
		return true, nil

	default: // protocol.RecordUnknown
		return false, ErrUnknownRecord
	}
}

func (b *Bootloader) flush(t *transfer) error {
	n, err := b.session.Flush(&t.pending)
	t.written += n
	if err != nil {
		t.faulted = true
		return err
	}
	return nil
}

package ingest

import (
	"encoding/json"

	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/notebus"
	"github.com/snarg/tankwatch/internal/seriallog"
)

// handleSerialLog appends one or many entries to a device's log ring.
func (e *Engine) handleSerialLog(note notebus.Note) error {
	var msg serialLogNote
	if err := json.Unmarshal(note.Body, &msg); err != nil {
		return fault.Wrap(fault.Validation, err, "decode serial log")
	}
	if msg.Client == "" {
		return fault.New(fault.Validation, "serial log missing client")
	}

	epoch := e.noteEpoch(note)

	if msg.Message != "" {
		e.serial.AppendDevice(msg.Client, seriallog.Entry{
			Epoch:   epoch,
			Message: msg.Message,
			Level:   "info",
			Source:  "client",
		})
	}
	for _, l := range msg.Logs {
		entry := seriallog.Entry{
			Epoch:   l.Timestamp,
			Message: l.Message,
			Level:   l.Level,
			Source:  l.Source,
		}
		if entry.Epoch == 0 {
			entry.Epoch = epoch
		}
		if entry.Level == "" {
			entry.Level = "info"
		}
		if entry.Source == "" {
			entry.Source = "client"
		}
		e.serial.AppendDevice(msg.Client, entry)
	}

	// Logs arriving means the device answered a pending request.
	err := e.fleet.UpsertDevice(msg.Client, func(meta *fleet.DeviceMeta) {
		meta.AwaitingLogs = false
	})
	if err != nil {
		e.log.Warn().Err(err).Str("device", msg.Client).Msg("device meta rejected")
	}
	return nil
}

// handleSerialAck updates a device's ack state. The awaiting-logs flag
// stays up while the device reports it is still processing.
func (e *Engine) handleSerialAck(note notebus.Note) error {
	var msg serialAckNote
	if err := json.Unmarshal(note.Body, &msg); err != nil {
		return fault.Wrap(fault.Validation, err, "decode serial ack")
	}
	if msg.Client == "" {
		return fault.New(fault.Validation, "serial ack missing client")
	}

	epoch := e.noteEpoch(note)
	return e.fleet.UpsertDevice(msg.Client, func(meta *fleet.DeviceMeta) {
		meta.LastAckEpoch = epoch
		meta.AckStatus = msg.Status
		if msg.Status != "processing" {
			meta.AwaitingLogs = false
		}
	})
}

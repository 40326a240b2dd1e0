// Package delta computes the subset of a session's message log not yet
// covered by any existing compression record.
package delta

import (
	"sort"
	"time"

	"github.com/entrhq/distill/pkg/types"
)

// Delta is the result of detection: the uncovered messages and the part
// number they extend.
type Delta struct {
	Messages     []types.Message
	PreviousPart int
	HasDelta     bool
}

// Status is a read-only projection of the same computation for display. It
// performs no mutation and copies nothing from the log.
type Status struct {
	PendingMessages int
	SinceTimestamp  time.Time
	NextPartNumber  int
}

// latestRecord returns the compression record whose covered range ends
// last. Records are not guaranteed to be stored chronologically, so this
// is an explicit dual-key comparison: EndIndex primary, numeric
// EndTimestamp secondary. Never compares timestamps as strings.
func latestRecord(records []types.CompressionRecord) *types.CompressionRecord {
	if len(records) == 0 {
		return nil
	}
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ra, rb := &records[idx[a]], &records[idx[b]]
		if ra.Range.EndIndex != rb.Range.EndIndex {
			return ra.Range.EndIndex < rb.Range.EndIndex
		}
		return ra.Range.EndTimestamp.UnixNano() < rb.Range.EndTimestamp.UnixNano()
	})
	return &records[idx[len(idx)-1]]
}

// Detect computes the delta for a session given its full message log.
//
// With no compression records the entire log is the delta and PreviousPart
// is 0. Otherwise the delta is every message with index at or beyond the
// latest record's EndIndex, confirmed by timestamp so a re-numbered log
// cannot resurrect already-covered messages.
func Detect(entry *types.SessionEntry, log []types.Message) Delta {
	last := latestRecord(entry.Records)
	if last == nil {
		return Delta{
			Messages:     log,
			PreviousPart: 0,
			HasDelta:     len(log) > 0,
		}
	}

	d := Delta{PreviousPart: last.PartNumber}
	if len(log) <= last.Range.EndIndex {
		// Log has not grown since the last compression.
		return d
	}
	for i := range log {
		if log[i].Index < last.Range.EndIndex {
			continue
		}
		// Timestamp confirmation: tolerate index re-numbering by refusing
		// messages that predate the covered range's end.
		if !last.Range.EndTimestamp.IsZero() && log[i].Timestamp.Before(last.Range.EndTimestamp) {
			continue
		}
		d.Messages = append(d.Messages, log[i])
	}
	d.HasDelta = len(d.Messages) > 0
	return d
}

// GetStatus reports the pending delta without materializing it.
func GetStatus(entry *types.SessionEntry, log []types.Message) Status {
	last := latestRecord(entry.Records)
	if last == nil {
		s := Status{PendingMessages: len(log), NextPartNumber: 1}
		if len(log) > 0 {
			s.SinceTimestamp = log[0].Timestamp
		}
		return s
	}

	s := Status{SinceTimestamp: last.Range.EndTimestamp, NextPartNumber: last.PartNumber + 1}
	for i := range log {
		if log[i].Index < last.Range.EndIndex {
			continue
		}
		if !last.Range.EndTimestamp.IsZero() && log[i].Timestamp.Before(last.Range.EndTimestamp) {
			continue
		}
		s.PendingMessages++
	}
	return s
}

// RangeOf summarizes a message slice as the range a new record will cover.
func RangeOf(messages []types.Message) types.MessageRange {
	if len(messages) == 0 {
		return types.MessageRange{}
	}
	first, last := messages[0], messages[len(messages)-1]
	return types.MessageRange{
		StartIndex:     first.Index,
		EndIndex:       last.Index + 1,
		MessageCount:   len(messages),
		StartTimestamp: first.Timestamp,
		EndTimestamp:   last.Timestamp,
	}
}

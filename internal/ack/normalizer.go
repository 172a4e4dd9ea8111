// Package ack folds device acknowledgments into command records and the
// device history.
package ack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agrosmart/internal/command"
	"agrosmart/internal/history"
	"agrosmart/internal/log"
	"agrosmart/internal/metrics"
	"agrosmart/internal/models"
	"agrosmart/internal/store"
)

// Outcome summarizes one processed report.
type Outcome struct {
	DeviceID  string               `json:"device_id"`
	CommandID string               `json:"command_id"`
	Reported  models.CommandStatus `json:"reported"`
	Status    models.CommandStatus `json:"status"`
	Result    string               `json:"result,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Terminal  bool                 `json:"terminal"`
	Known     bool                 `json:"known"`
}

type Normalizer struct {
	store        store.CommandStore
	history      *history.Writer
	storeTimeout time.Duration
	now          func() time.Time
	log          log.Logger
}

func NewNormalizer(cs store.CommandStore, hw *history.Writer, storeTimeout time.Duration, logger log.Logger) *Normalizer {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Normalizer{store: cs, history: hw, storeTimeout: storeTimeout, now: time.Now, log: logger}
}

// SetClock replaces the time source.
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// Handle processes raw bytes received on topic.
func (n *Normalizer) Handle(ctx context.Context, topic string, payload []byte) (Outcome, error) {
	return n.HandleEnvelope(ctx, topic, Decode(payload))
}

// HandleEnvelope processes an already decoded envelope. Invalid reports
// return an error wrapping ErrInvalidReport and are not persisted.
func (n *Normalizer) HandleEnvelope(ctx context.Context, topic string, envelope map[string]any) (Outcome, error) {
	rep, err := ExtractReport(Unwrap(envelope), topic)
	if err != nil {
		metrics.AcksRejected.Inc()
		n.log.Warn("rejected acknowledgment", "topic", topic, "error", err,
			"device_id", rep.DeviceID, "command_id", rep.CommandID)
		return Outcome{}, err
	}
	logger := log.ForCommand(n.log, rep.DeviceID, rep.CommandID, "status", string(rep.Status))

	existing, err := n.existing(ctx, rep.DeviceID, rep.CommandID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read command %s: %w", rep.CommandID, err)
	}

	now := n.now().UTC()
	out := Outcome{DeviceID: rep.DeviceID, CommandID: rep.CommandID, Reported: rep.Status, Known: existing != nil}

	current := models.CommandStatus("")
	requestedAction, requestedDuration := rep.Action, rep.Duration
	if existing != nil {
		current = existing.Status
		if existing.RequestedAction != "" {
			requestedAction = existing.RequestedAction
		}
		if existing.RequestedDuration != nil {
			requestedDuration = existing.RequestedDuration
		}
	}
	out.Status = command.Advance(ctx, current, rep.Status)
	out.Terminal = rep.Status.IsTerminal()

	patch := models.CommandPatch{
		Status:            out.Status,
		LastStatus:        string(rep.Status),
		LastStatusAt:      &now,
		StatusTS:          map[string]time.Time{string(rep.Status): now},
		RequestedAction:   rep.Action,
		RequestedDuration: rep.Duration,
		Action:            rep.Action,
		Duration:          rep.Duration,
		AckTopic:          rep.Topic,
		DeviceTS:          rep.DeviceTS,
		Sys:               rep.Sys,
		UpdatedAt:         now,
	}
	switch rep.Status {
	case models.StatusReceived:
		patch.ReceivedAt = &now
	case models.StatusStarted:
		patch.StartedAt = &now
	case models.StatusDone, models.StatusFailed:
		patch.FinishedAt = &now
	}

	// Once finished, only a report of the same terminal kind may touch the
	// recorded reason and error.
	if out.Status == rep.Status || !current.IsTerminal() {
		patch.Error = rep.CommandError()
	}

	var reasonRaw string
	if out.Terminal {
		out.Result = ResultOf(rep.Status, rep.OK, rep.HasError())
		out.Reason, reasonRaw = NormalizeReason(rep.Reason, rep.Status, out.Result, requestedAction, requestedDuration)
		// A late terminal report of the other kind does not rewrite the outcome.
		if out.Status == rep.Status {
			patch.Result = out.Result
			patch.Reason = out.Reason
			patch.ReasonRaw = reasonRaw
		}
	} else {
		out.Reason = rep.Reason
		if !current.IsTerminal() {
			patch.Reason = rep.Reason
		}
	}

	if err := n.merge(ctx, rep.DeviceID, rep.CommandID, patch); err != nil {
		return out, fmt.Errorf("failed to merge command %s: %w", rep.CommandID, err)
	}
	metrics.AcksProcessed.WithLabelValues(string(rep.Status), out.Result).Inc()
	if existing == nil {
		logger.Warn("acknowledgment for unknown command recorded")
	}
	if out.Status != rep.Status {
		logger.Info("report did not advance command", "effective_status", string(out.Status))
	}

	if out.Terminal {
		entry := finishedEntry(rep, out, reasonRaw, requestedAction, requestedDuration, now)
		n.history.Write(ctx, entry)
		logger.Info("command finished", "result", out.Result, "reason", out.Reason, "topic", rep.Topic)
	} else {
		logger.Debug("command updated", "topic", rep.Topic)
	}
	return out, nil
}

func (n *Normalizer) existing(ctx context.Context, deviceID, commandID string) (*models.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, n.storeTimeout)
	defer cancel()
	cmd, err := n.store.GetCommand(ctx, deviceID, commandID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return cmd, err
}

func (n *Normalizer) merge(ctx context.Context, deviceID, commandID string, patch models.CommandPatch) error {
	ctx, cancel := context.WithTimeout(ctx, n.storeTimeout)
	defer cancel()
	return n.store.MergeCommand(ctx, deviceID, commandID, patch)
}

func finishedEntry(rep Report, out Outcome, reasonRaw, reqAction string, reqDuration *int, now time.Time) models.HistoryEntry {
	severity := history.SeverityInfo
	if out.Result != models.ResultSuccess {
		severity = history.SeverityError
	}

	details := map[string]any{
		"result":       out.Result,
		"final_status": string(rep.Status),
		"requested":    map[string]any{"action": nullable(reqAction), "duration": intOrNil(reqDuration)},
		"final":        map[string]any{"action": nullable(rep.Action), "duration": intOrNil(rep.Duration)},
		"reason":       nullable(out.Reason),
		"error":        rep.Error,
		"sys":          rep.Sys,
		"device_ts":    rep.DeviceTS,
		"mqtt_topic":   nullable(rep.Topic),
		"ui_hint":      map[string]any{"kind": "command", "severity": severity},
	}
	if reasonRaw != "" {
		details["reason_raw"] = reasonRaw
	}

	return models.HistoryEntry{
		ID:            history.FinishedID(rep.CommandID),
		DeviceID:      rep.DeviceID,
		Type:          models.HistoryCommandExecution,
		Source:        history.SourceCommand,
		Message:       history.FinishedMessage(out.Result, reqAction, reqDuration, out.Reason),
		CommandID:     rep.CommandID,
		Status:        string(rep.Status),
		Result:        out.Result,
		Reason:        out.Reason,
		EventName:     history.EventCommandFinished,
		EventCode:     history.CodeCommandFinished,
		Severity:      severity,
		Details:       details,
		SchemaVersion: models.SchemaVersion,
		Timestamp:     now,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// Package slack adapts the slack-go client, Events API parsing and
// interactivity payloads to the receipt pipeline.
package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"receipts/internal/core"
)

// Envelope and event types the pipeline reacts to.
const (
	TypeURLVerification = slackevents.URLVerification
	TypeEventCallback   = slackevents.CallbackEvent
	EventMessage        = string(slackevents.Message)
)

// TypeBlockActions is the interaction type of a button click.
const TypeBlockActions = slackapi.InteractionTypeBlockActions

// InteractionPayload is the decoded "payload" form field of an interactive request.
type InteractionPayload = slackapi.InteractionCallback

// EventEnvelope is a decoded Events API request body.
type EventEnvelope struct {
	slackevents.EventsAPIEvent
	// EventID identifies the delivery; Slack retries reuse it.
	EventID string
}

// ParseEventEnvelope decodes body without token verification, which the
// request signature replaces.
func ParseEventEnvelope(body []byte) (EventEnvelope, error) {
	var outer struct {
		Type    string          `json:"type"`
		EventID string          `json:"event_id"`
		Event   json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return EventEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if outer.Type == "" {
		return EventEnvelope{}, errors.New("decode envelope: missing type")
	}
	if outer.Type == TypeEventCallback && len(outer.Event) == 0 {
		// slackevents dereferences the inner event unconditionally.
		return EventEnvelope{
			EventsAPIEvent: slackevents.EventsAPIEvent{Type: outer.Type},
			EventID:        outer.EventID,
		}, nil
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("parse event: %w", err)
	}
	env := EventEnvelope{EventsAPIEvent: ev, EventID: outer.EventID}
	if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok && cb.EventID != "" {
		env.EventID = cb.EventID
	}
	return env, nil
}

// Challenge returns the token to echo for a URL verification handshake.
func (e EventEnvelope) Challenge() string {
	if v, ok := e.Data.(*slackevents.EventsAPIURLVerificationEvent); ok {
		return v.Challenge
	}
	return ""
}

// InboundEvent converts a callback envelope into the pipeline's event. The
// second result is false when the envelope carries no inner event.
func (e EventEnvelope) InboundEvent() (core.InboundEvent, bool) {
	if e.Type != TypeEventCallback || e.InnerEvent.Type == "" {
		return core.InboundEvent{}, false
	}
	ev := core.InboundEvent{ID: e.EventID, Type: e.InnerEvent.Type}
	msg, ok := e.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || msg == nil {
		return ev, true
	}
	ev.Channel = msg.Channel
	ev.User = msg.User
	ev.FromBot = msg.BotID != "" || msg.SubType == "bot_message"
	for _, f := range msg.Files {
		url := f.URLPrivateDownload
		if url == "" {
			url = f.URLPrivate
		}
		ev.Attachments = append(ev.Attachments, core.Attachment{
			ID:          f.ID,
			Name:        f.Name,
			MIMEType:    f.Mimetype,
			DownloadURL: url,
		})
	}
	return ev, true
}

// ParseInteraction decodes the JSON carried in an interactive request's
// "payload" form field.
func ParseInteraction(payload string) (InteractionPayload, error) {
	var p InteractionPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return InteractionPayload{}, fmt.Errorf("decode interaction: %w", err)
	}
	return p, nil
}

// DisplayName prefers the workspace name and falls back to the id.
func DisplayName(u slackapi.User) string {
	for _, s := range []string{u.Name, u.RealName, u.ID} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "unknown"
}

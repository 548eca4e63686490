package slack

import (
	slackapi "github.com/slack-go/slack"
)

// Button styles.
const (
	StylePrimary = slackapi.StylePrimary
	StyleDanger  = slackapi.StyleDanger
)

func Markdown(s string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.MarkdownType, s, false, false)
}

func Section(text string) *slackapi.SectionBlock {
	return slackapi.NewSectionBlock(Markdown(text), nil, nil)
}

func FieldsSection(fields ...*slackapi.TextBlockObject) *slackapi.SectionBlock {
	return slackapi.NewSectionBlock(nil, fields, nil)
}

// Button builds a button with an emoji-enabled plain text label.
func Button(actionID, label string, style slackapi.Style, value string) *slackapi.ButtonBlockElement {
	text := slackapi.NewTextBlockObject(slackapi.PlainTextType, label, true, false)
	return slackapi.NewButtonBlockElement(actionID, value, text).WithStyle(style)
}

func Actions(blockID string, buttons ...*slackapi.ButtonBlockElement) *slackapi.ActionBlock {
	elements := make([]slackapi.BlockElement, len(buttons))
	for i, b := range buttons {
		elements[i] = b
	}
	return slackapi.NewActionBlock(blockID, elements...)
}

// PostMessage is a chat.postMessage request.
type PostMessage struct {
	Channel string
	Text    string
	Blocks  []slackapi.Block
}

// ResponseMessage is posted to an interaction's response_url.
type ResponseMessage struct {
	ReplaceOriginal bool
	Text            string
	Blocks          []slackapi.Block
}

func (m ResponseMessage) webhook() *slackapi.WebhookMessage {
	wm := &slackapi.WebhookMessage{
		Text:            m.Text,
		ReplaceOriginal: m.ReplaceOriginal,
	}
	if len(m.Blocks) > 0 {
		wm.Blocks = &slackapi.Blocks{BlockSet: m.Blocks}
	}
	return wm
}

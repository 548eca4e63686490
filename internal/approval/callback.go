package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	slackapi "github.com/slack-go/slack"

	"receipts/internal/core"
	"receipts/internal/sheets"
	"receipts/internal/slack"
)

const (
	rowNotFoundText   = ":warning: 対象となるスプレッドシートの行が見つからなかったため、更新に失敗しました（URL不一致または削除済み）。"
	sheetNotFoundText = ":warning: 対象となるスプレッドシートの行が見つからなかったため、更新に失敗しました。"
)

// keptBlocks is how many blocks of the original message survive a decision.
const keptBlocks = 2

// Responder posts to interaction response URLs.
type Responder interface {
	Respond(ctx context.Context, responseURL string, msg slack.ResponseMessage) error
}

// Callback applies button clicks to the ledger.
type Callback struct {
	status    sheets.StatusUpdater
	responder Responder
	logger    *slog.Logger
}

func NewCallback(status sheets.StatusUpdater, responder Responder, logger *slog.Logger) *Callback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Callback{status: status, responder: responder, logger: logger}
}

// Handle sets the status chosen in p on the referenced row and replaces the
// original message with its first blocks plus a confirmation. When the row
// or sheet is gone, a warning is posted without replacing the message.
func (c *Callback) Handle(ctx context.Context, p slack.InteractionPayload) error {
	actions := p.ActionCallback.BlockActions
	if len(actions) == 0 {
		return nil
	}
	token, err := ParseToken(actions[0].Value)
	if err != nil {
		return err
	}
	status, err := core.ActionStatus(token.Action)
	if err != nil {
		return fmt.Errorf("%w: %q", err, token.Action)
	}

	err = c.status.SetStatus(ctx, token.SheetName, token.FileURL, status)
	switch {
	case errors.Is(err, core.ErrSheetNotFound):
		c.logger.WarnContext(ctx, "Approval target sheet missing", "sheet", token.SheetName)
		return c.warn(ctx, p.ResponseURL, sheetNotFoundText)
	case errors.Is(err, core.ErrRowNotFound):
		c.logger.WarnContext(ctx, "Approval target row missing", "sheet", token.SheetName, "evidence_link", token.FileURL)
		return c.warn(ctx, p.ResponseURL, rowNotFoundText)
	case err != nil:
		return fmt.Errorf("set status: %w", err)
	}

	user := slack.DisplayName(p.User)
	confirmation := Confirmation(token.Action, user)
	msg := slack.ResponseMessage{
		ReplaceOriginal: true,
		Text:            confirmation,
		Blocks:          append(originalBlocks(p.Message), slack.Section(confirmation)),
	}
	if err := c.responder.Respond(ctx, p.ResponseURL, msg); err != nil {
		return fmt.Errorf("replace approval message: %w", err)
	}
	c.logger.InfoContext(ctx, "Approval decision applied",
		"sheet", token.SheetName,
		"evidence_link", token.FileURL,
		"status", string(status),
		"user", user)
	return nil
}

// Confirmation is the line that replaces the buttons.
func Confirmation(action, user string) string {
	if action == core.ActionApprove {
		return fmt.Sprintf(":white_check_mark: *@[%s]* によって「経費として計上 (Approve)」されました。", user)
	}
	return fmt.Sprintf(":x: *@[%s]* によって「対象外 (Reject)」とされました。", user)
}

func (c *Callback) warn(ctx context.Context, responseURL, text string) error {
	if err := c.responder.Respond(ctx, responseURL, slack.ResponseMessage{ReplaceOriginal: false, Text: text}); err != nil {
		return fmt.Errorf("post approval warning: %w", err)
	}
	return nil
}

func originalBlocks(m slackapi.Message) []slackapi.Block {
	set := m.Blocks.BlockSet
	n := min(len(set), keptBlocks)
	out := make([]slackapi.Block, 0, n+1)
	return append(out, set[:n]...)
}

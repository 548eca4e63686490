package approval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	slackapi "github.com/slack-go/slack"

	"receipts/internal/core"
	"receipts/internal/slack"
)

const (
	notificationText = "レシート解析完了（確認をお願いします）"
	introText        = "レシートの解析が完了し、スプレッドシートの仮登録を行いました。\n内容を確認し、経費計上するか判断してください。"
	duplicateBanner  = ":warning: *【注意】類似するデータが既に登録されている可能性があります。*\n"
)

// Poster sends bot messages.
type Poster interface {
	PostMessage(ctx context.Context, msg slack.PostMessage) error
}

// Notifier posts approval requests.
type Notifier struct {
	poster Poster
	logger *slog.Logger
}

func NewNotifier(p Poster, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{poster: p, logger: logger}
}

// Notify posts the approval request for the row ref points at.
func (n *Notifier) Notify(ctx context.Context, channel string, rec core.ExtractedRecord, ref core.LedgerRowRef, ratio float64) error {
	msg := slack.PostMessage{
		Channel: channel,
		Text:    notificationText,
		Blocks:  Blocks(rec, ref, ratio),
	}
	if err := n.poster.PostMessage(ctx, msg); err != nil {
		return fmt.Errorf("post approval request: %w", err)
	}
	n.logger.InfoContext(ctx, "Approval request sent", "channel", channel, "sheet", ref.SheetName, "evidence_link", ref.EvidenceLink)
	return nil
}

// Blocks lays out the approval request: intro, receipt fields, buttons.
func Blocks(rec core.ExtractedRecord, ref core.LedgerRowRef, ratio float64) []slackapi.Block {
	intro := introText
	if ref.Duplicate {
		intro = duplicateBanner + intro
	}

	approve := Token{Action: core.ActionApprove, SheetName: ref.SheetName, FileURL: ref.EvidenceLink}
	reject := Token{Action: core.ActionReject, SheetName: ref.SheetName, FileURL: ref.EvidenceLink}

	return []slackapi.Block{
		slack.Section(intro),
		slack.FieldsSection(
			slack.Markdown("*日付:*\n"+core.FormatDate(rec.Date)),
			slack.Markdown("*支払先:*\n"+rec.Payee),
			slack.Markdown("*名目（推論）:*\n"+rec.Category),
			slack.Markdown("*総額:*\n"+Yen(rec.Amount)),
			slack.Markdown("*デフォルト按分率:*\n"+Percent(ratio)),
			slack.Markdown("*経費計上額（予定）:*\n"+Yen(core.FloorExpense(rec.Amount, ratio))),
		),
		slack.Actions(ActionsBlockID,
			slack.Button(ApproveID, "経費として計上 (Approve)", slack.StylePrimary, approve.Encode()),
			slack.Button(RejectID, "対象外・却下 (Reject)", slack.StyleDanger, reject.Encode()),
		),
	}
}

// Yen formats an amount with a yen sign and thousands separators.
func Yen(amount int64) string {
	s := strconv.FormatInt(amount, 10)
	neg := false
	if amount < 0 {
		neg, s = true, s[1:]
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-¥" + string(out)
	}
	return "¥" + string(out)
}

// Percent renders a ratio as a percentage with at most two decimals.
func Percent(ratio float64) string {
	p := math.Round(ratio*10000) / 100
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}

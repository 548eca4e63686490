package extract

import (
	"strings"

	"receipts/internal/core"
)

// BuildPrompt asks for exactly one JSON object describing the receipt.
func BuildPrompt(rawText string, categories []string) string {
	var b strings.Builder
	b.WriteString("あなたは日本のレシート・領収書の読み取り担当です。\n")
	b.WriteString("以下のOCRテキストから情報を抽出し、JSONオブジェクトを1つだけ出力してください。\n\n")
	b.WriteString("キー:\n")
	b.WriteString("- \"date\": 支払日 (YYYY/MM/DD)\n")
	b.WriteString("- \"payee\": 支払先の店舗名・会社名\n")
	b.WriteString("- \"amount\": 税込の支払総額 (0以上の整数、記号やカンマなし)\n")
	b.WriteString("- \"category\": 次の名目から最も適切なもの1つ: ")
	b.WriteString(strings.Join(categories, ", "))
	b.WriteString("\n\n")
	b.WriteString("ルール:\n")
	b.WriteString("- 該当する名目がなければ \"" + core.CategoryUncategorized + "\" とする。\n")
	b.WriteString("- 説明文は書かない。コードフェンス (```) を使わない。\n")
	b.WriteString("- 出力は \"{\" で始まり \"}\" で終わること。\n\n")
	b.WriteString("OCRテキスト:\n")
	b.WriteString(rawText)
	return b.String()
}

// CleanModelJSON strips code fences and any prose around the outermost
// JSON object of a model reply.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimLeft(s, "`")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

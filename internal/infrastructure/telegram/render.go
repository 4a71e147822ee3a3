package telegram

import (
	"fmt"
	"strings"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
)

const noneMarker = "— không có —"

const helpText = `Bot 5S online. Cú pháp:
<ID Kho> - <Tên Kho>
Ví dụ:
DN01 - GXT Đà Nẵng

Gửi kèm ảnh 5S. Mỗi kho cần đủ số ảnh trong ngày; bot sẽ tổng hợp lúc giờ chốt.`

func fmtDay(d busday.Day) string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Date, int(d.Month), d.Year)
}

// RenderOutcome turns a rejection into the user-facing explanation. Accepted
// submissions are rendered through the progress session instead, so this
// returns an empty string for them.
func RenderOutcome(out domain.Outcome) string {
	switch out.Kind {
	case domain.OutcomeBatchDuplicate:
		return "⚠️ Ảnh trùng trong cùng album, đã bỏ qua."
	case domain.OutcomeSameDayDuplicate:
		return fmt.Sprintf("⚠️ Ảnh này đã được ghi nhận hôm nay lúc %s.",
			out.OriginalTimestamp.Format("15:04"))
	case domain.OutcomeStaleDuplicate:
		return fmt.Sprintf("❌ Ảnh này đã dùng ngày %s. Vui lòng chụp ảnh mới.",
			fmtDay(out.OriginalDay))
	case domain.OutcomeNearDuplicate:
		return fmt.Sprintf("❌ Ảnh quá giống ảnh đã gửi ngày %s (giống %.0f%%). Vui lòng chụp ảnh khác.",
			fmtDay(out.MatchedDay), out.Similarity*100)
	default:
		return ""
	}
}

// RenderReport lays the three report sections out as one message. Empty
// sections carry an explicit marker so a short report is never mistaken for
// a truncated one.
func RenderReport(rep domain.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Báo cáo 5S ngày %s\n", fmtDay(rep.Day))

	b.WriteString("\n❌ Chưa báo cáo:\n")
	if len(rep.NotSubmitted) == 0 {
		b.WriteString(noneMarker + "\n")
	}
	for _, line := range rep.NotSubmitted {
		fmt.Fprintf(&b, "- %s - %s\n", line.EntityID, line.DisplayName)
	}

	b.WriteString("\n♻️ Dùng lại ảnh cũ:\n")
	if len(rep.StaleReuse) == 0 {
		b.WriteString(noneMarker + "\n")
	}
	for _, line := range rep.StaleReuse {
		fmt.Fprintf(&b, "- %s - %s (ảnh của ngày %s)\n",
			line.EntityID, line.DisplayName, fmtDay(line.OriginalDay))
	}

	b.WriteString("\n⚠️ Chưa đủ ảnh:\n")
	if len(rep.UnderQuota) == 0 {
		b.WriteString(noneMarker + "\n")
	}
	for _, line := range rep.UnderQuota {
		fmt.Fprintf(&b, "- %s - %s (%d/%d ảnh)\n",
			line.EntityID, line.DisplayName, line.Count, line.Required)
	}

	return strings.TrimRight(b.String(), "\n")
}

package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
)

func day(t *testing.T, s string) busday.Day {
	t.Helper()
	d, err := busday.ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestRenderOutcome(t *testing.T) {
	t.Parallel()

	require.Empty(t, RenderOutcome(domain.Outcome{Kind: domain.OutcomeAccepted, NewCount: 1}))

	text := RenderOutcome(domain.Outcome{Kind: domain.OutcomeBatchDuplicate})
	require.Contains(t, text, "album")

	text = RenderOutcome(domain.Outcome{
		Kind:              domain.OutcomeSameDayDuplicate,
		OriginalTimestamp: time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC),
	})
	require.Contains(t, text, "09:15")

	text = RenderOutcome(domain.Outcome{
		Kind:        domain.OutcomeStaleDuplicate,
		OriginalDay: day(t, "2024-03-01"),
	})
	require.Contains(t, text, "01/03/2024")

	text = RenderOutcome(domain.Outcome{
		Kind:       domain.OutcomeNearDuplicate,
		MatchedDay: day(t, "2024-03-05"),
		Similarity: 0.969,
	})
	require.Contains(t, text, "05/03/2024")
	require.Contains(t, text, "97%")
}

func TestRenderReportFull(t *testing.T) {
	t.Parallel()

	text := RenderReport(domain.Report{
		Day: day(t, "2024-03-10"),
		NotSubmitted: []domain.ReportLine{
			{EntityID: "HCM03", DisplayName: "GXT Sài Gòn"},
		},
		StaleReuse: []domain.ReportLine{
			{EntityID: "HP04", DisplayName: "GXT Hải Phòng", OriginalDay: day(t, "2024-03-01")},
		},
		UnderQuota: []domain.ReportLine{
			{EntityID: "HN02", DisplayName: "GXT Hà Nội", Count: 2, Required: 4},
		},
	})

	require.Contains(t, text, "10/03/2024")
	require.Contains(t, text, "HCM03 - GXT Sài Gòn")
	require.Contains(t, text, "HP04 - GXT Hải Phòng (ảnh của ngày 01/03/2024)")
	require.Contains(t, text, "HN02 - GXT Hà Nội (2/4 ảnh)")
	require.NotContains(t, text, noneMarker)
}

// An empty section must still be announced, never silently dropped.
func TestRenderReportEmptySectionsMarked(t *testing.T) {
	t.Parallel()

	text := RenderReport(domain.Report{
		Day:          day(t, "2024-03-10"),
		NotSubmitted: []domain.ReportLine{},
		StaleReuse:   []domain.ReportLine{},
		UnderQuota:   []domain.ReportLine{},
	})

	require.Equal(t, 3, strings.Count(text, noneMarker))
	require.Contains(t, text, "Chưa báo cáo:")
	require.Contains(t, text, "Dùng lại ảnh cũ:")
	require.Contains(t, text, "Chưa đủ ảnh:")
}

package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/forge-health/compliance-diagnostics/pkg/breach"
)

const maxBlockTextLength = 2900

var alertEmoji = map[breach.AlertLevel]string{
	breach.AlertWarning:  ":large_yellow_circle:",
	breach.AlertUrgent:   ":large_orange_circle:",
	breach.AlertCritical: ":red_circle:",
	breach.AlertImminent: ":rotating_light:",
	breach.AlertOverdue:  ":skull:",
}

var alertLabel = map[breach.AlertLevel]string{
	breach.AlertWarning:  "Notification deadline approaching (24h)",
	breach.AlertUrgent:   "Notification deadline approaching (12h)",
	breach.AlertCritical: "Notification deadline approaching (6h)",
	breach.AlertImminent: "Notification deadline approaching (1h)",
	breach.AlertOverdue:  "Notification deadline MISSED",
}

func incidentURL(dashboardURL, incidentID string) string {
	return fmt.Sprintf("%s/incidents/%s", dashboardURL, incidentID)
}

// BuildDeadlineAlertMessage creates Block Kit blocks for one tiered
// breach-notification deadline alert.
func BuildDeadlineAlertMessage(inc *breach.Incident, level breach.AlertLevel, dashboardURL string) []goslack.Block {
	emoji := alertEmoji[level]
	if emoji == "" {
		emoji = ":warning:"
	}
	label := alertLabel[level]
	if label == "" {
		label = "Notification deadline alert: " + string(level)
	}

	headerText := fmt.Sprintf("%s *%s*\nIncident `%s` — %s, severity *%s*, affected records: %d",
		emoji, label, inc.ID, truncateForSlack(inc.Description), inc.Severity, inc.AffectedRecords)

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))

	url := incidentURL(dashboardURL, inc.ID)
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Incident", false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}

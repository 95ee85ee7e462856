package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
)

func FormatStoppedMessage(r Report) string {
	var sb strings.Builder
	writeReport(&sb, r)
	return sb.String()
}

// FormatFailureMessage adds the cause, and the HTTP status when the
// platform answered with one.
func FormatFailureMessage(r Report, err error) string {
	var sb strings.Builder
	writeReport(&sb, r)

	if r.Attempts > 0 {
		sb.WriteString(fmt.Sprintf("\nGave up after: %d attempts", r.Attempts))
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		sb.WriteString(fmt.Sprintf("\nStatus: %d", apiErr.StatusCode))
	}

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	return sb.String()
}

func writeReport(sb *strings.Builder, r Report) {
	sb.WriteString(fmt.Sprintf("Version: %s\n", r.Version))
	datafeedID := r.DatafeedID
	if datafeedID == "" {
		datafeedID = "(none)"
	}
	sb.WriteString(fmt.Sprintf("Datafeed: %s\n", datafeedID))
	sb.WriteString(fmt.Sprintf("Uptime: %s", r.Duration.Round(time.Second)))
}

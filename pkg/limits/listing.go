package limits

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// ListTitle names the limiter family in the table listing.
const ListTitle = "uploadpackperhour"

const (
	listFormat = "%-26s %-17s %-19s %-15s %s\n"
	dashedLine = "---------------------------------------------------------------------------------------------"
)

// ListEntry is the wire form of one Status.
type ListEntry struct {
	AccountID        string `json:"AccountId"`
	PermitsPerHour   string `json:"permits_per_hour"`
	AvailablePermits string `json:"available_permits"`
	UsedPermits      string `json:"used_permit"`
	ReplenishIn      string `json:"replenish_in"`
}

// Entries converts rows to their wire form.
func Entries(rows []Status) []ListEntry {
	out := make([]ListEntry, len(rows))
	for i, st := range rows {
		out[i] = ListEntry{
			AccountID:        st.DisplayName,
			PermitsPerHour:   FormatPermits(st.MaxPermits),
			AvailablePermits: FormatPermits(st.Available),
			UsedPermits:      FormatPermits(st.Used),
			ReplenishIn:      ISODuration(st.RemainingTime),
		}
	}
	return out
}

// WriteTable prints entries as the fixed-width administrative table.
func WriteTable(w io.Writer, entries []ListEntry) error {
	var b strings.Builder
	b.WriteString(dashedLine + "\n")
	b.WriteString("* " + ListTitle + " *\n")
	b.WriteString(dashedLine + "\n")
	fmt.Fprintf(&b, listFormat, "Account Id/IP (username)", "Permits Per Hour", "Available Permits", "Used Permits", "Replenish in")
	b.WriteString(dashedLine + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, listFormat, e.AccountID, e.PermitsPerHour, e.AvailablePermits, e.UsedPermits, e.ReplenishIn)
	}
	b.WriteString(dashedLine + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// FormatPermits renders a permit count, spelling out Unlimited.
func FormatPermits(n int) string {
	if n == ratelimit.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

// ISODuration renders d in ISO-8601 form truncated to seconds, such as
// PT59M30S. Zero is PT0S.
func ISODuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "PT0S"
	}
	h, m, s := secs/3600, secs/60%60, secs%60

	var b strings.Builder
	b.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}

package logger

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const barWidth = 16

// QueueStatusBar draws pending work against the core budget:
// "[==  |    ]" fills the core section first, then the overflow section,
// and ends in ">" when pending work exceeds the drawable width.
type QueueStatusBar struct {
	Pending int
	Cores   int
}

func (q QueueStatusBar) String() string {
	cores := max(q.Cores, 1)
	virtual := max(cores*3, barWidth)
	coresW := cores * barWidth / virtual
	pendingW := max(q.Pending, 0) * barWidth / virtual
	overhang := max(pendingW-coresW, 0)
	empty := barWidth - coresW - overhang

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.Repeat("=", min(pendingW, coresW)))
	b.WriteString(strings.Repeat(" ", max(coresW-pendingW, 0)))
	b.WriteString("|")
	b.WriteString(strings.Repeat("=", min(overhang, barWidth-coresW)))
	if empty >= 0 {
		b.WriteString(strings.Repeat(" ", empty))
		b.WriteString("]")
	} else {
		b.WriteString(">")
	}
	return b.String()
}

// Line renders the full progress line for at.
func (q QueueStatusBar) Line(at ProgressAt) string {
	return fmt.Sprintf("%s %d cores, %d queued, latest: %s", q, max(q.Cores, 1), q.Pending, at)
}

// ProgressAt names the most recently analysed position.
type ProgressAt struct {
	JobID string
	URL   string
	// Position is the index within the job, negative when unknown.
	Position int
}

func (p ProgressAt) String() string {
	if p.URL != "" {
		if u, err := url.Parse(p.URL); err == nil {
			if p.Position >= 0 {
				u.Fragment = strconv.Itoa(p.Position)
			}
			return u.String()
		}
	}
	if p.Position >= 0 {
		return p.JobID + "#" + strconv.Itoa(p.Position)
	}
	return p.JobID
}

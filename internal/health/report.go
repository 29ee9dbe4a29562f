package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"daqpull/internal/fileutil"
	"daqpull/internal/queue"
	"daqpull/internal/units"
)

// ReportTitle heads the status report.
const ReportTitle = "Energy DAQ - Collector Statistics"

const reportTimeLayout = "2006-01-02T15:04:05-0700"

// Report is one rendering of the fleet status.
type Report struct {
	UpdatedAt time.Time
	Depths    map[string]int
	Active    []Row
	Inactive  []Row
}

// Row is one unit line of the report.
type Row struct {
	Hostname   string
	ReceivedAt string
	Sequence   string
	FileSize   string
	Transfer   string
	Elapsed    string
}

// BuildReport assembles the report for the given partition.
func BuildReport(now time.Time, depths map[string]int, t *Tracker, active, inactive []units.Unit) Report {
	return Report{
		UpdatedAt: now,
		Depths:    depths,
		Active:    rows(t, active),
		Inactive:  rows(t, inactive),
	}
}

func rows(t *Tracker, list []units.Unit) []Row {
	byHost := make(map[string]units.Unit, len(list))
	names := make([]string, 0, len(list))
	for _, u := range list {
		byHost[u.Hostname] = u
		names = append(names, u.Hostname)
	}
	SortHostnames(names)

	out := make([]Row, 0, len(names))
	for _, name := range names {
		u := byHost[name]
		st := t.State(name)
		row := Row{Hostname: name, ReceivedAt: "-", Sequence: "-", FileSize: "-", Transfer: "-", Elapsed: "-"}
		if st.LastReceivedAt != nil {
			row.ReceivedAt = st.LastReceivedAt.Local().Format("2006-01-02 15:04:05-0700")
		}
		if st.LastSequenceNumber != nil {
			row.Sequence = fmt.Sprintf("%d", *st.LastSequenceNumber)
			row.Elapsed = FormatElapsed(time.Duration(*st.LastSequenceNumber) * u.RecordingLength)
		}
		if st.LastFileSize != nil {
			row.FileSize = humanize.IBytes(uint64(max(*st.LastFileSize, 0)))
		}
		if st.LastTransferDuration != nil {
			row.Transfer = fmt.Sprintf("%.2f sec.", st.LastTransferDuration.Seconds())
		}
		out = append(out, row)
	}
	return out
}

// SortHostnames orders names naturally so medal-2 precedes medal-10.
func SortHostnames(names []string) {
	collate.New(language.Und, collate.Numeric).SortStrings(names)
}

// FormatElapsed renders d as H:MM:SS, with a day count once it exceeds a day.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	rest := total % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rest/3600, (rest%3600)/60, rest%60)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}

// Render produces the text written to the report file.
func (r Report) Render() string {
	var b strings.Builder
	b.WriteString(ReportTitle + "\n")
	fmt.Fprintf(&b, "Statistics last updated: %s\n", r.UpdatedAt.Local().Format(reportTimeLayout))
	fmt.Fprintf(&b, "Statistics Queue: %d items unprocessed\n", r.Depths[queue.ChannelStatistics])
	fmt.Fprintf(&b, "Verification Queue: %d items unprocessed\n", r.Depths[queue.ChannelVerification])
	fmt.Fprintf(&b, "Storage Queue: %d items unprocessed\n", r.Depths[queue.ChannelStorage])
	b.WriteString("\n")

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.AppendHeader(table.Row{"Hostname", "Received At", "Sequence", "File Size", "Transfer", "Time"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignCenter},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	labelled := len(r.Inactive) > 0
	if labelled {
		tw.AppendRow(table.Row{"Active:"})
	}
	appendRows(tw, r.Active)
	if labelled {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Inactive:"})
		appendRows(tw, r.Inactive)
	}
	b.WriteString(tw.Render())
	b.WriteString("\n")
	return b.String()
}

func appendRows(tw table.Writer, list []Row) {
	for _, row := range list {
		tw.AppendRow(table.Row{row.Hostname, row.ReceivedAt, row.Sequence, row.FileSize, row.Transfer, row.Elapsed})
	}
}

// Write replaces the report at path atomically.
func (r Report) Write(path string) error {
	if err := fileutil.WriteFileAtomic(path, []byte(r.Render()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

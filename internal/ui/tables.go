package ui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/orchestrator"
)

// ShortID abbreviates a document id for tables.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (p *Printer) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.border).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.title.Padding(0, 1)
			}
			return p.renderer.NewStyle().Padding(0, 1)
		})
}

// Documents prints the merged listing as a table.
func (p *Printer) Documents(docs []*document.Document) {
	if len(docs) == 0 {
		p.Muted("No documents.")
		return
	}

	t := p.table("ID", "NAME", "TYPE", "SIZE", "STATUS", "SOURCE", "CREATED")
	for _, doc := range docs {
		t.Row(
			ShortID(doc.ID),
			doc.FileName,
			doc.FileType,
			humanize.Bytes(uint64(max(doc.FileSize, 0))),
			p.Status(doc.Status),
			p.Source(doc.Source),
			humanize.Time(doc.CreatedAt),
		)
	}
	fmt.Fprintln(p.w, t.String())
	p.Muted("%d document(s)", len(docs))
}

// Sessions prints processing sessions as a table.
func (p *Printer) Sessions(sessions []*document.Session) {
	if len(sessions) == 0 {
		p.Muted("No sessions.")
		return
	}

	t := p.table("ID", "NAME", "DOCUMENTS", "STATUS", "UPDATED")
	for _, s := range sessions {
		t.Row(
			ShortID(s.ID),
			s.Name,
			strconv.Itoa(len(s.DocumentIDs)),
			string(s.Status),
			humanize.Time(s.UpdatedAt),
		)
	}
	fmt.Fprintln(p.w, t.String())
}

// Stats prints the aggregate view.
func (p *Printer) Stats(stats *orchestrator.StorageStats) {
	p.Title("Storage")

	online := p.warning.Render("offline")
	if stats.IsOnline {
		online = p.success.Render("online")
	}
	local := p.success.Render("available")
	if !stats.LocalAvailable {
		local = p.failure.Render("unavailable (using fallback)")
	}
	lastSync := p.muted.Render("never")
	if stats.LastSyncTime != nil {
		lastSync = humanize.Time(*stats.LastSyncTime)
	}
	lastCheck := p.muted.Render("never")
	if stats.LastCheck != nil {
		lastCheck = humanize.Time(*stats.LastCheck)
	}

	p.Pairs([][2]string{
		{"Documents", strconv.Itoa(stats.Total)},
		{"Size", humanize.Bytes(uint64(max(stats.TotalBytes, 0)))},
		{"Remote", online},
		{"Local store", local},
		{"Draining", strconv.FormatBool(stats.Draining)},
		{"Queued", strconv.Itoa(stats.QueueLength)},
		{"Backlog", strconv.Itoa(stats.Backlog)},
		{"Fallback area", humanize.Bytes(uint64(max(stats.FallbackBytes, 0)))},
		{"Last sync", lastSync},
		{"Last checked", lastCheck},
	})

	var byStatus []string
	for _, s := range document.Statuses {
		byStatus = append(byStatus, fmt.Sprintf("%s %d", p.Status(s), stats.ByStatus[s]))
	}
	var bySource []string
	for _, name := range sortedKeys(stats.BySource) {
		bySource = append(bySource, fmt.Sprintf("%s %d", name, stats.BySource[name]))
	}

	p.Pairs([][2]string{
		{"By status", strings.Join(byStatus, "  ")},
		{"By source", strings.Join(bySource, "  ")},
	})
}

// Drain prints the tally of a sync pass.
func (p *Printer) Drain(res orchestrator.DrainResult) {
	switch {
	case res.Skipped == orchestrator.SkipOffline:
		p.Warn("Remote unreachable; nothing synced")
		return
	case res.Skipped == orchestrator.SkipBusy:
		p.Warn("A sync is already running")
		return
	case res.Skipped == orchestrator.SkipLocalDown:
		p.Error("Local store unavailable; nothing to sync")
		return
	}

	if res.Failed > 0 {
		p.Warn("Synced %d, failed %d in %v", res.Synced, res.Failed, res.Duration.Round(time.Millisecond))
	} else {
		p.Success("Synced %d in %v", res.Synced, res.Duration.Round(time.Millisecond))
	}
	if res.Truncated {
		p.Muted("More documents are waiting; a follow-up pass is scheduled.")
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Command smoothtaskctl is a read-only terminal viewer over smoothtaskd's
// snapshot log: the most recent tick's groups and their classes.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/smoothtask/smoothtask/internal/config"
	"github.com/smoothtask/smoothtask/internal/model"
)

func main() {
	logger := zap.NewNop()
	cfg := config.Load(logger)

	db, err := sql.Open("sqlite", cfg.SnapshotDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smoothtaskctl: open snapshot db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	m := newModel(db)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "smoothtaskctl: %v\n", err)
		os.Exit(1)
	}
}

type groupRow struct {
	GroupID   string
	AppName   string
	GroupType string
	Class     model.PriorityClass
}

type tickMsg time.Time

type snapshotMsg struct {
	tickSeq int64
	ts      time.Time
	rows    []groupRow
	err     error
}

type model struct {
	db      *sql.DB
	rows    []groupRow
	tickSeq int64
	ts      time.Time
	lastErr error
	width   int
}

func newModel(db *sql.DB) model {
	return model{db: db}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), poll(m.db))
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func poll(db *sql.DB) tea.Cmd {
	return func() tea.Msg {
		var snapshotID, tickSeq int64
		var ts int64
		err := db.QueryRow(`SELECT snapshot_id, tick_seq, timestamp_ns FROM snapshots ORDER BY snapshot_id DESC LIMIT 1`).
			Scan(&snapshotID, &tickSeq, &ts)
		if err != nil {
			return snapshotMsg{err: err}
		}

		rows, err := db.Query(`SELECT group_id, app_name, group_type, target_class FROM groups WHERE snapshot_id = ? ORDER BY target_class DESC`, snapshotID)
		if err != nil {
			return snapshotMsg{err: err}
		}
		defer rows.Close()

		var out []groupRow
		for rows.Next() {
			var g groupRow
			if err := rows.Scan(&g.GroupID, &g.AppName, &g.GroupType, &g.Class); err != nil {
				continue
			}
			out = append(out, g)
		}
		return snapshotMsg{tickSeq: tickSeq, ts: time.Unix(0, ts), rows: out}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(tick(), poll(m.db))
	case snapshotMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.tickSeq = msg.tickSeq
		m.ts = msg.ts
		m.rows = msg.rows
	}
	return m, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	classColor  = map[model.PriorityClass]lipgloss.Color{
		model.CritInteractive: lipgloss.Color("196"),
		model.Interactive:     lipgloss.Color("214"),
		model.Normal:          lipgloss.Color("252"),
		model.Background:      lipgloss.Color("244"),
		model.Idle:            lipgloss.Color("238"),
	}
)

func (m model) View() string {
	if m.lastErr != nil {
		return fmt.Sprintf("smoothtaskctl: waiting for snapshots (%v)\nq to quit", m.lastErr)
	}

	header := headerStyle.Render(fmt.Sprintf("smoothtaskctl  tick=%d  %s ago  (q to quit)",
		m.tickSeq, humanize.Time(m.ts)))

	out := header + "\n\n"
	for _, g := range m.rows {
		style := lipgloss.NewStyle().Foreground(classColorOf(g.Class))
		out += style.Render(fmt.Sprintf("%-24s %-16s %-16s", g.AppName, g.GroupType, g.Class)) + "\n"
	}
	return out
}

func classColorOf(class model.PriorityClass) lipgloss.Color {
	if c, ok := classColor[class]; ok {
		return c
	}
	return lipgloss.Color("252")
}

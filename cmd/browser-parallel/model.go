package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/browserd/browserd/internal/orchestrator"
)

// resultMsg wraps one test result as it arrives from the orchestrator.
type resultMsg orchestrator.TestResult

// doneMsg signals the orchestrator run has finished.
type doneMsg struct {
	summary orchestrator.Summary
	err     error
}

type instanceRow struct {
	id      string
	passed  int
	failed  int
	errored int
}

// progressModel renders one row per instance, updated live as resultMsg
// values arrive on resultCh, and exits once doneMsg arrives on doneCh.
type progressModel struct {
	order      []string
	rows       map[string]*instanceRow
	resultCh   <-chan resultMsg
	doneCh     <-chan doneMsg
	styles     tableStyles
	bar        progress.Model
	totalTests int
	completed  int

	finished bool
	summary  orchestrator.Summary
	err      error
}

func newProgressModel(instanceIDs []string, totalTests int, resultCh <-chan resultMsg, doneCh <-chan doneMsg) progressModel {
	rows := make(map[string]*instanceRow, len(instanceIDs))
	for _, id := range instanceIDs {
		rows[id] = &instanceRow{id: id}
	}
	return progressModel{
		order:      instanceIDs,
		rows:       rows,
		resultCh:   resultCh,
		doneCh:     doneCh,
		styles:     defaultTableStyles(),
		bar:        progress.New(progress.WithDefaultGradient()),
		totalTests: totalTests,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(waitForResult(m.resultCh), waitForDone(m.doneCh))
}

func waitForResult(ch <-chan resultMsg) tea.Cmd {
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return nil
		}
		return r
	}
}

func waitForDone(ch <-chan doneMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case resultMsg:
		row := m.rows[v.InstanceID]
		if row != nil {
			switch {
			case v.Errored:
				row.errored++
			case v.Passed:
				row.passed++
			default:
				row.failed++
			}
		}
		m.completed++
		return m, waitForResult(m.resultCh)
	case doneMsg:
		m.finished = true
		m.summary = v.summary
		m.err = v.err
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = v.Width - 4
		return m, nil
	case tea.KeyMsg:
		if v.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	table := newSimpleTable("browser-parallel", "instance", "passed", "failed", "errors")
	for i, id := range m.order {
		row := m.rows[id]
		table.setRow(i, row.id, fmt.Sprint(row.passed), fmt.Sprint(row.failed), fmt.Sprint(row.errored))
	}
	out := table.View(m.styles)

	fraction := 0.0
	if m.totalTests > 0 {
		fraction = float64(m.completed) / float64(m.totalTests)
	}
	out += "\n" + m.bar.ViewAs(fraction) + "\n"

	if m.finished {
		out += fmt.Sprintf("passRate=%.2f passed=%d failed=%d errors=%d\n",
			m.summary.PassRate, m.summary.Passed, m.summary.Failed, m.summary.Errors)
	}
	return out
}

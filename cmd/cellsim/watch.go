package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/myokit/beta/internal/driver"
	"github.com/myokit/beta/internal/logging"
)

const watchHistoryCapacity = 300

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type tickMsg time.Time

// watchModel drives the simulation one Step per tick, the bubbletea
// analogue of the teacher's viz.Model but stripped down to a single
// scrolling voltage trace since a cell model has no spatial state to draw.
type watchModel struct {
	ctx     *driver.SimulationContext
	sub     *logging.Substrate
	fps     int
	running bool
	done    bool
	err     error
	history []float64
}

func newWatchModel(cfg *Config, fps int) watchModel {
	sub := logging.NewSubstrate()
	opts := buildOptions(cfg, sub)
	ctx := driver.New()
	m := watchModel{ctx: ctx, sub: sub, fps: fps, running: true}
	if err := ctx.Init(opts); err != nil {
		m.err = err
		m.done = true
	}
	return m
}

func (m watchModel) Init() tea.Cmd {
	return m.tick()
}

func (m watchModel) tick() tea.Cmd {
	interval := time.Second / time.Duration(m.fps)
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.ctx.Clean()
			return m, tea.Quit
		case " ":
			m.running = !m.running
		}
	case tickMsg:
		if m.running && !m.done {
			_, done, err := m.ctx.Step(context.Background())
			if err != nil {
				m.err = err
				m.done = true
			} else if done {
				m.done = true
				m.ctx.Clean()
			}
			if v := m.sub.Column("membrane.V"); len(v) > 0 {
				m.history = v
				if len(m.history) > watchHistoryCapacity {
					m.history = m.history[len(m.history)-watchHistoryCapacity:]
				}
			}
		}
		return m, m.tick()
	}
	return m, nil
}

func (m watchModel) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("CELLSIM  beeler_reuter_1977") + "\n")

	status := "RUNNING"
	if m.done {
		status = "DONE"
	} else if !m.running {
		status = "PAUSED"
	}
	if m.err != nil {
		status = fmt.Sprintf("ERROR: %v", m.err)
	}
	s.WriteString(status + "\n\n")

	if len(m.history) > 1 {
		chart := asciigraph.Plot(m.history, asciigraph.Height(10), asciigraph.Width(70), asciigraph.Caption("membrane.V (mV)"))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	times := m.sub.Column("engine.time")
	if len(times) > 0 {
		s.WriteString(labelStyle.Render("t") + valueStyle.Render(fmt.Sprintf("%.2f ms", times[len(times)-1])) + "\n")
	}
	if len(m.history) > 0 {
		s.WriteString(labelStyle.Render("V") + valueStyle.Render(fmt.Sprintf("%.2f mV", m.history[len(m.history)-1])) + "\n")
	}
	s.WriteString(labelStyle.Render("steps") + valueStyle.Render(fmt.Sprintf("%d", m.ctx.NumberOfSteps())) + "\n")

	s.WriteString(helpStyle.Render("space: pause/resume   q: quit"))
	return s.String()
}

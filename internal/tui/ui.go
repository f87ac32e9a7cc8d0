// Package tui renders a live dashboard of a run: one row per stressor and
// the event log of the selected stressor.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/thrash/internal/cliutil"
	"github.com/Paintersrp/thrash/internal/engine"
)

const (
	tableTitle          = "Stressors"
	logsTitle           = "Events"
	filterPageName      = "filter"
	defaultLogRetention = 500
	refreshInterval     = 500 * time.Millisecond
)

// Stats are live counters read from the supervisor of a stressor.
type Stats struct {
	State    string
	Workers  int
	Live     int
	Restarts int
	Failures int
	BogoOps  uint64
}

// StatsFunc returns the live counters of a stressor, or false when none are
// available.
type StatsFunc func(stressor string) (Stats, bool)

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxLogs sets the maximum number of events retained for each stressor.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// WithStats makes the table show supervisor counters instead of counts
// derived from events.
func WithStats(fn StatsFunc) Option {
	return func(u *UI) {
		u.stats = fn
	}
}

// UI coordinates the interactive dashboard backed by tview.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	logs   *tview.TextView
	events chan engine.Event
	stats  StatsFunc

	stressors map[string]*stressorState

	visible     []string
	selected    string
	logsPretty  bool
	filter      string
	filterExpr  *regexp.Regexp
	logsFocused bool
	maxLogs     int

	mu sync.RWMutex
	// selecting is set while the UI moves the table selection itself.
	selecting atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type stressorState struct {
	name      string
	firstSeen time.Time
	lastEvent time.Time
	state     engine.EventType
	workers   map[int]struct{}
	restarts  int
	failures  int
	message   string

	logs []cliutil.LogRecord
}

// New constructs a UI configured with the supplied options.
func New(opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)
	logs.SetChangedFunc(func() {
		app.Draw()
	})

	ui := newUI(app, table, logs)
	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(func(row, column int) {
		if ui.selecting.Load() {
			return
		}
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderLogsLocked()
	})

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

func newUI(app *tview.Application, table *tview.Table, logs *tview.TextView) *UI {
	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(logs, 0, 2, false)
	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:        app,
		pages:      pages,
		table:      table,
		logs:       logs,
		events:     make(chan engine.Event, 256),
		stressors:  make(map[string]*stressorState),
		logsPretty: false,
		maxLogs:    defaultLogRetention,
		done:       make(chan struct{}),
	}
	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)
	return ui
}

// EventSink exposes the channel where run events should be delivered.
func (u *UI) EventSink() chan<- engine.Event {
	return u.events
}

// CloseEvents releases the event channel, allowing internal goroutines to
// exit cleanly.
func (u *UI) CloseEvents() {
	u.closeOnce.Do(func() {
		close(u.events)
	})
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and processes incoming events until Stop
// is invoked or ctx is cancelled. It returns once the event channel has been
// closed and drained.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

// Stop terminates the application loop.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	draining := false
	ctxDone := ctx.Done()

	for {
		var tick <-chan time.Time
		if !draining {
			tick = ticker.C
		}

		select {
		case <-ctxDone:
			draining = true
			ticker.Stop()
			ctxDone = nil
		case evt, ok := <-u.events:
			if !ok {
				return
			}
			if draining {
				continue
			}
			u.applyEvent(evt)
		case <-tick:
			u.queueRefresh(false)
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	// The filter prompt owns the keyboard while it is open.
	if u.pages.HasPage(filterPageName) {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		}
	}
	return event
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.logsPretty = !u.logsPretty
	u.renderLogsLocked()
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	closePrompt := func() {
		u.pages.RemovePage(filterPageName)
		u.app.SetFocus(u.table)
		u.logsFocused = false
	}
	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			closePrompt()
			u.applyFilter(input.GetText())
		}).
		AddButton("Cancel", closePrompt)

	form.SetBorder(true).SetTitle("Filter Stressors")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	var re *regexp.Regexp
	if expr != "" {
		var err error
		re, err = regexp.Compile(expr)
		if err != nil {
			u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
			return
		}
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh(true)
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *UI) applyEvent(evt engine.Event) {
	u.mu.Lock()
	updateLogs := u.applyEventLocked(evt)
	u.mu.Unlock()

	u.queueRefresh(updateLogs)
}

// applyEventLocked folds evt into the stressor state and reports whether the
// log pane shows it.
func (u *UI) applyEventLocked(evt engine.Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	state := u.stressors[evt.Stressor]
	if state == nil {
		state = &stressorState{name: evt.Stressor, firstSeen: evt.Timestamp, workers: make(map[int]struct{})}
		u.stressors[evt.Stressor] = state
	}
	state.lastEvent = evt.Timestamp

	if evt.Ordinal >= 0 {
		state.workers[evt.Ordinal] = struct{}{}
	}
	if evt.Type != engine.EventTypeLog {
		state.state = evt.Type
		switch {
		case evt.Type == engine.EventTypeRestarting && evt.Reason == engine.ReasonRestart:
			state.restarts++
		case evt.Type == engine.EventTypeFailed && evt.Ordinal >= 0:
			state.failures++
		}
		switch {
		case evt.Message != "":
			state.message = evt.Message
		case evt.Err != nil:
			state.message = evt.Err.Error()
		default:
			state.message = ""
		}
	}

	state.logs = append(state.logs, cliutil.NewLogRecord(evt))
	if len(state.logs) > u.maxLogs {
		trim := len(state.logs) - u.maxLogs
		state.logs = append([]cliutil.LogRecord(nil), state.logs[trim:]...)
	}

	return state.name == u.selected || u.selected == ""
}

func (u *UI) queueRefresh(updateLogs bool) {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateLogs {
			u.renderLogsLocked()
		}
	})
}

// row is one rendered table line.
type row struct {
	name     string
	state    string
	workers  string
	restarts int
	failures int
	bogo     string
	age      string
	message  string
}

func (u *UI) rowLocked(state *stressorState, now time.Time) row {
	r := row{
		name:     state.name,
		state:    formatState(string(state.state)),
		workers:  strconv.Itoa(len(state.workers)),
		restarts: state.restarts,
		failures: state.failures,
		bogo:     "-",
		age:      "-",
		message:  state.message,
	}
	if u.stats != nil {
		if stats, ok := u.stats(state.name); ok {
			if state.state == "" && stats.State != "" {
				r.state = formatState(stats.State)
			}
			r.workers = fmt.Sprintf("%d/%d", stats.Live, stats.Workers)
			r.restarts = stats.Restarts
			r.failures = stats.Failures
			r.bogo = strconv.FormatUint(stats.BogoOps, 10)
		}
	}
	if !state.firstSeen.IsZero() {
		r.age = now.Sub(state.firstSeen).Truncate(time.Second).String()
	}
	if len(r.message) > 80 {
		r.message = r.message[:77] + "..."
	}
	return r
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"STRESSOR", "STATE", "WORKERS", "RESTARTS", "FAILURES", "BOGO OPS", "AGE", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	names := make([]string, 0, len(u.stressors))
	for name := range u.stressors {
		if u.filterExpr != nil && !u.filterExpr.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	u.visible = names

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	now := time.Now()
	for i, name := range names {
		r := u.rowLocked(u.stressors[name], now)
		values := []string{
			r.name,
			r.state,
			r.workers,
			strconv.Itoa(r.restarts),
			strconv.Itoa(r.failures),
			r.bogo,
			r.age,
			r.message,
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(name)
			}
			if col == 4 && r.failures > 0 {
				cell = cell.SetTextColor(tcell.ColorRed)
			}
			u.table.SetCell(i+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	var state *stressorState
	if u.selected != "" {
		state = u.stressors[u.selected]
	}
	if state == nil {
		u.logs.SetTitle(logsTitle)
		return
	}

	u.logs.SetTitle(fmt.Sprintf("%s (%s)", logsTitle, state.name))

	for _, record := range state.logs {
		var data []byte
		var err error
		if u.logsPretty {
			data, err = json.MarshalIndent(record, "", "  ")
		} else {
			data, err = json.Marshal(record)
		}
		if err != nil {
			fmt.Fprintf(u.logs, "{\"error\":%q}\n", err.Error())
			continue
		}
		fmt.Fprintf(u.logs, "%s\n", tview.Escape(string(data)))
	}
	u.logs.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	u.selecting.Store(true)
	defer u.selecting.Store(false)
	if len(u.visible) == 0 {
		u.selected = ""
		u.table.Select(0, 0)
		return
	}

	idx := -1
	for i, name := range u.visible {
		if name == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	u.table.Select(idx+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func formatState(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) <= 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Command foreman-dash is a terminal dashboard over a running foremand:
// worker pool status, live system-log tail, and the operator actions the
// control surface exposes (start, stop, force-sync).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/corvidwave/foreman/cmd/foreman-dash/tui"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8787", "foremand control surface address")
	user := flag.String("user", "operator", "operator username")
	password := flag.String("password", "", "operator password (defaults to $FOREMAN_PASSWORD)")
	logFile := flag.String("log-file", "", "tail this local log file instead of the daemon's websocket stream")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("foreman-dash %s\n", version)
		os.Exit(0)
	}

	pass := *password
	if pass == "" {
		pass = os.Getenv("FOREMAN_PASSWORD")
	}
	if pass == "" {
		fmt.Fprintln(os.Stderr, "Error: no operator password (use -password or $FOREMAN_PASSWORD)")
		os.Exit(1)
	}

	client := tui.NewClient(*addr)
	if err := client.Login(*user, pass); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	m := newModel(client, *addr, *logFile)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newModel(client *tui.Client, addr, logFile string) tui.Model {
	workerList := list.New([]list.Item{}, tui.WorkerDelegate{}, 0, 0)
	workerList.SetShowTitle(false)
	workerList.SetShowStatusBar(false)
	workerList.SetFilteringEnabled(false)
	workerList.SetShowHelp(false)

	filter := textinput.New()
	filter.Placeholder = "filter"
	filter.CharLimit = 64
	filter.Width = 24

	return tui.NewModel(client, addr, logFile, workerList, filter, viewport.New(0, 0))
}

// Command trailmemo-tui records geotagged voice memos from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"trailmemo/internal/bootstrap"
	"trailmemo/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "trailmemo-tui: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := tui.NewBridge()
	// The console would draw over the UI; set TRAILMEMO_LOG_FILE to keep logs.
	services, err := bootstrap.Build(bridge, io.Discard)
	if err != nil {
		return err
	}
	defer services.Close()

	model := tui.New(ctx, services.Controller, services.Library)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(program)
	defer bridge.Close()

	_, err = program.Run()
	return err
}

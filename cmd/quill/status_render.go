package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"quill/internal/pipeline"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiBlue   = "\x1b[34m"
)

func stateColor(state pipeline.ReportState) string {
	switch state {
	case pipeline.StateComplete:
		return ansiGreen
	case pipeline.StateFailed:
		return ansiRed
	case pipeline.StateCancelled:
		return ansiYellow
	case pipeline.StateQueued, pipeline.StateRunning:
		return ansiBlue
	default:
		return ""
	}
}

func colorizeState(state pipeline.ReportState, enabled bool) string {
	text := string(state)
	if !enabled {
		return text
	}
	color := stateColor(state)
	if color == "" {
		return text
	}
	return color + text + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Package main prints a one-line status of the running session.
// It is meant for shell prompts and terminal status bars, so it never blocks
// for long and prints an offline marker when no session is serving.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/hwrsync/internal/config"
	"github.com/thebtf/hwrsync/internal/scheduler"
	"github.com/thebtf/hwrsync/pkg/models"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorRed    = "\033[31m"
)

const requestTimeout = 100 * time.Millisecond

func main() {
	st := getStatus(fmt.Sprintf("http://127.0.0.1:%d/api/session", config.GetWorkerPort()))
	fmt.Println(formatStatusLine(st, useColors()))
}

// getStatus fetches the session snapshot. Any failure reads as offline.
func getStatus(endpoint string) *scheduler.Status {
	client := &http.Client{Timeout: requestTimeout}

	resp, err := client.Get(endpoint)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var st scheduler.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil
	}
	return &st
}

// useColors defaults to on unless TERM is dumb or NO_COLOR is set.
// HWR_STATUSLINE_COLORS=true|false overrides both.
func useColors() bool {
	on := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	switch os.Getenv("HWR_STATUSLINE_COLORS") {
	case "false":
		on = false
	case "true":
		on = true
	}
	return on
}

func paint(s, color string, colors bool) string {
	if !colors {
		return s
	}
	return color + s + colorReset
}

// formatStatusLine renders e.g. "[hwr] ● S01/ses1 run 2/10 trial 3/10 cue 'a' 4.2s".
func formatStatusLine(st *scheduler.Status, colors bool) string {
	prefix := paint("[hwr]", colorCyan, colors)
	if st == nil {
		return prefix + " " + paint("○", colorGray, colors)
	}

	var indicator string
	switch {
	case st.Finished:
		indicator = paint("✓", colorGreen, colors)
	case st.Status == models.SessionStatusStopped:
		indicator = paint("■", colorRed, colors)
	case st.Status == models.SessionStatusRunning:
		indicator = paint("●", colorGreen, colors)
	default:
		indicator = paint("●", colorYellow, colors)
	}

	result := fmt.Sprintf("%s %s %s/%s", prefix, indicator, st.SubjectID, st.SessionID)
	if st.Finished {
		return result + " done"
	}
	result += fmt.Sprintf(" run %d/%d trial %d/%d", st.RunID, st.Runs, st.TrialID, st.TrialsPerRun)
	if st.Phase != "" {
		result += " " + paint(string(st.Phase), colorYellow, colors)
	}
	if st.Letter != "" {
		result += fmt.Sprintf(" '%s'", st.Letter)
	}
	if !st.Deadline.IsZero() && !st.UpdatedAt.IsZero() {
		if left := st.Deadline.Sub(st.UpdatedAt).Seconds(); left > 0 {
			result += fmt.Sprintf(" %.1fs", left)
		}
	}
	return result
}

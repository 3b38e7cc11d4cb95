package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"variantlab/pkg/recwatch"

	"github.com/spf13/cobra"
)

func runList(cmd *cobra.Command, args []string) error {
	recordings, err := newClient().ListRecordings(cmd.Context(), versionArg(args))
	if err != nil {
		return fmt.Errorf("failed to list recordings: %w", err)
	}

	fmt.Println(renderListing(versionArg(args), recwatch.ListState{Recordings: recordings}))
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	rec, err := newClient().GetRecording(cmd.Context(), args[0])
	if errors.Is(err, recwatch.ErrNotFound) {
		fmt.Println(theme.Warning.Render("No recording for session " + args[0]))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load recording: %w", err)
	}

	fmt.Println(renderRecording(recwatch.RecordingState{SessionID: args[0], Recording: rec}))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	sessionID, _ := cmd.Flags().GetString("session")
	version := versionArg(args)
	client := newClient()

	list := recwatch.NewListSubscription(client, version, recwatch.WithInterval(interval))
	list.Start()
	defer list.Cancel()

	var one *recwatch.RecordingSubscription
	var oneUpdates <-chan recwatch.RecordingState
	if sessionID != "" {
		one = recwatch.NewRecordingSubscription(client)
		defer one.Close()
		one.SetSessionID(sessionID)
		oneUpdates = one.Updates()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	redraw := func() {
		// Clear screen and home the cursor
		fmt.Print("\033[H\033[2J")
		fmt.Println(renderListing(version, list.State()))
		if one != nil {
			fmt.Println()
			fmt.Println(renderRecording(one.State()))
		}
		fmt.Println(theme.Muted.Render(fmt.Sprintf("\nRefreshing every %s from %s. Ctrl+C to quit.", interval, serverURL)))
	}

	for {
		select {
		case <-sigChan:
			return nil
		case _, ok := <-list.Updates():
			if !ok {
				return nil
			}
			redraw()
		case _, ok := <-oneUpdates:
			if !ok {
				oneUpdates = nil
				continue
			}
			redraw()
		}
	}
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Seednode/songroom/room"
)

func newDirectory(cfg *Config) (*room.Client, error) {
	return room.NewClient(cfg.server, cfg.token, nil)
}

func newSession(cfg *Config, roomID string) (*room.Session, error) {
	local := cfg.identity()

	dialer, err := room.NewDialer(cfg.server, local)
	if err != nil {
		return nil, err
	}
	dialer.Attempts = cfg.connectAttempts
	dialer.Retry = cfg.retry
	dialer.Liveness = cfg.livenessInterval
	dialer.Log = cfg.log.With().Str("component", "conn").Logger()
	if cfg.token != "" {
		dialer.Header.Set("Authorization", "Bearer "+cfg.token)
	}

	dir, err := newDirectory(cfg)
	if err != nil {
		return nil, err
	}

	opts := room.Options{
		RoomID:           roomID,
		Local:            local,
		Transport:        dialer,
		Directory:        dir,
		RosterInterval:   cfg.rosterInterval,
		LivenessInterval: cfg.livenessInterval,
		PhaseTimeout:     cfg.phaseTimeout,
		Log:              cfg.log.With().Str("component", "session").Logger(),
	}
	if cfg.recordFile != "" {
		opts.Recorder = room.FileRecorder{Path: cfg.recordFile}
	}
	if cfg.playbackDir != "" {
		opts.Player = room.DirPlayer{Dir: cfg.playbackDir}
	}

	logf(cfg, "START: Playing as %q (%s)", local.Nickname, local.ID)

	return room.NewSession(opts)
}

func capacityOf(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func yes(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func printRooms(w io.Writer, rooms []room.Info) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "ID\tNAME\tMODE\tCAPACITY\tPHASE")
	for _, r := range rooms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Mode, capacityOf(r.Capacity), r.Phase)
	}

	return tw.Flush()
}

func printDetails(w io.Writer, d room.Details) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Room:\t%s (%s)\n", d.Room.Name, d.Room.ID)
	fmt.Fprintf(tw, "Mode:\t%s\n", d.Room.Mode)
	fmt.Fprintf(tw, "Players:\t%d/%s\n", len(d.Participants), capacityOf(d.Room.Capacity))
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "ID\tNICKNAME\tHOST\tREADY\tMIC")
	for _, p := range d.Participants {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Nickname, yes(p.Host || p.ID == d.Room.HostID), yes(p.Ready), yes(p.MicReady))
	}

	return tw.Flush()
}

func newRoomsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms on the game server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := newDirectory(cfg)
			if err != nil {
				return err
			}

			rooms, err := dir.ListRooms(cmd.Context())
			if err != nil {
				return err
			}

			logf(cfg, "GAMES: Listed %d rooms on %s", len(rooms), cfg.server)

			return printRooms(cmd.OutOrStdout(), rooms)
		},
	}
}

func newRoomCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "room <room-id>",
		Short: "Show one room and who is in it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := newDirectory(cfg)
			if err != nil {
				return err
			}

			details, err := dir.RoomDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printDetails(cmd.OutOrStdout(), details)
		},
	}
}

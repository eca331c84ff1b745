package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/avpeers/groupplay/internal/config"
	"github.com/avpeers/groupplay/internal/peerlink"
	"github.com/avpeers/groupplay/internal/ratelimit"
	"github.com/avpeers/groupplay/internal/signaling"
	"github.com/avpeers/groupplay/internal/syncproto"
	"github.com/avpeers/groupplay/internal/termplayer"
)

var (
	flagServer   string
	flagDuration time.Duration
	flagLogFile  string

	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
)

var joinCmd = &cobra.Command{
	Use:   "join <room-key>",
	Short: "Join a playback room",
	Long: `Join the room identified by <room-key>, usually the URL of the page
everyone is watching. Members already in the room will connect to you
directly and your player catches up to theirs.

Examples:
  groupplay join https://v.example/watch?v=abc
  groupplay join movie-night --server ws://relay.example:9999/ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), args[0])
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagServer, "server", envOr("GROUPPLAY_SERVER", "ws://127.0.0.1:9999/ws"), "room server websocket URL")
	joinCmd.Flags().DurationVar(&flagDuration, "duration", 2*time.Hour, "length of the shared video")
	joinCmd.Flags().StringVar(&flagLogFile, "log-file", "", "append logs to this file (default: discard)")
	joinCmd.Flags().StringVar(&flagSTUN, "stun", os.Getenv("GROUPPLAY_STUN_URLS"), "comma-separated STUN urls")
	joinCmd.Flags().StringVar(&flagTURN, "turn", os.Getenv("GROUPPLAY_TURN_URLS"), "comma-separated TURN urls")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", os.Getenv("GROUPPLAY_TURN_USERNAME"), "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", os.Getenv("GROUPPLAY_TURN_CREDENTIAL"), "TURN credential")
	rootCmd.AddCommand(joinCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runJoin(ctx context.Context, roomKey string) error {
	log, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	iceCfg := config.Config{
		ICEServersJSON: os.Getenv("GROUPPLAY_ICE_SERVERS_JSON"),
		STUNURLs:       flagSTUN,
		TURNURLs:       flagTURN,
		TURNUsername:   flagTURNUser,
		TURNCredential: flagTURNPass,
	}
	iceServers, err := iceCfg.ICEServers()
	if err != nil {
		return fmt.Errorf("ice configuration: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := signaling.Dial(dialCtx, flagServer, log)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	player := termplayer.NewPlayhead(ratelimit.RealClock{}, flagDuration.Seconds())
	prog := tea.NewProgram(termplayer.NewModel(roomKey, player), tea.WithAltScreen())

	transport := peerlink.NewPionTransport(log, iceServers)

	// The event closures below run before these are assigned only if
	// the relay speaks first, which it cannot: nothing arrives until we
	// send the join after wiring up.
	var orch *peerlink.Orchestrator
	var controller *syncproto.Controller

	var peersMu sync.Mutex
	openPeers := make(map[string]bool)

	orch = peerlink.NewOrchestrator(log, transport, client, peerlink.Events{
		OnPeerOpen: func(peerID string, initiator bool) {
			peersMu.Lock()
			openPeers[peerID] = true
			n := len(openPeers)
			peersMu.Unlock()
			prog.Send(termplayer.PeerCountMsg(n))
		},
		OnPeerReady: func(peerID string, initiator bool) {
			// Both sides ask; a peer that never started playback
			// replies with hasStarted=false and the answer is ignored,
			// so only the late joiner actually catches up.
			controller.RequestState(orch.SelfID())
		},
		OnPeerClosed: func(peerID string) {
			peersMu.Lock()
			delete(openPeers, peerID)
			n := len(openPeers)
			peersMu.Unlock()
			prog.Send(termplayer.PeerCountMsg(n))
		},
		OnMessage: func(peerID string, payload []byte) {
			controller.HandleMessage(peerID, payload)
		},
	})
	defer orch.Close()

	controller = syncproto.NewController(log, player, orch)
	player.SetEventSink(controller)

	joinMsg, err := signaling.NewMessage(signaling.MessageTypeJoin, signaling.JoinData{RoomKey: roomKey})
	if err != nil {
		return err
	}
	if err := client.Send(joinMsg); err != nil {
		return err
	}

	go func() {
		for msg := range client.Incoming() {
			if msg.Type == signaling.MessageTypeJoinAck {
				prog.Send(termplayer.StatusMsg("in room, waiting for peers"))
			}
			orch.HandleEnvelope(msg)
		}
		prog.Send(termplayer.StatusMsg("disconnected from room server"))
	}()

	if _, err := prog.Run(); err != nil {
		return err
	}
	if err := client.Err(); err != nil {
		return fmt.Errorf("connection lost: %w", err)
	}
	return nil
}

func newLogger() (*slog.Logger, func(), error) {
	if flagLogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, nil)), func() { _ = f.Close() }, nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/mossy-p/webrtc-mesh/internal/ice"
	"github.com/mossy-p/webrtc-mesh/internal/mesh"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/signalclient"
	"github.com/mossy-p/webrtc-mesh/internal/webrtcpeer"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

var (
	flagPeerID   string
	flagMedia    string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and connect to every participant",
	Long: `Join a room and keep a direct connection to every other participant.

While joined, each line read from stdin is sent to the room as chat, except:
  /share    replace the outgoing video with a screen source
  /camera   go back to the camera
  /peers    show the state of every peer link
  /quit     leave the room

Examples:
  meshpeer join R1 --email student1@math101 --group math101
  meshpeer join R1 --token $MESH_TOKEN --relay --turn turn:turn.example.com:3478`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	},
}

func joinRoom(parent context.Context, roomID string) error {
	mode, ok := mesh.ParseMediaMode(flagMedia)
	if !ok {
		return fmt.Errorf("unknown media mode %q", flagMedia)
	}
	cfg, err := loadConfig(config.ClientOptions{
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	servers, err := ice.Build(cfg)
	if err != nil {
		return err
	}
	factory, err := webrtcpeer.NewFactory()
	if err != nil {
		return err
	}

	peerID := flagPeerID
	if peerID == "" {
		peerID = newPeerID()
	}

	session := mesh.NewSession(mesh.SessionConfig{
		RoomID:           roomID,
		PeerID:           peerID,
		PollInterval:     cfg.PollInterval,
		PresenceInterval: cfg.PresenceInterval,
		Media:            mode,
		Orchestrator:     mesh.Config{ForceRelay: cfg.ForceRelay},
	}, mesh.SessionDeps{
		Client:  client,
		Factory: factory,
		ICE: &ice.Fetching{
			Base:   servers,
			URL:    cfg.TURNCredentialsURL,
			Client: client.AuthorizedHTTPClient(),
		},
		Capturer: webrtcpeer.Headless{StreamID: peerID},
		Hooks:    printHooks(),
	})

	fmt.Printf("Joining %s as %s. Type to chat, /quit to leave.\n", roomID, peerID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readCommands(ctx, cancel, os.Stdin, session, cfg.Email)

	return session.Run(ctx)
}

// newPeerID returns a random peer id, fresh for every session.
func newPeerID() string {
	return uuid.NewString()
}

func printHooks() mesh.Hooks {
	return mesh.Hooks{
		OnStateChange: func(peer string, st mesh.State) {
			slog.Debug("link state", "peer", peer, "state", st)
			switch st {
			case mesh.StateConnected:
				fmt.Printf("* connected to %s\n", peer)
			case mesh.StateClosed:
				fmt.Printf("* %s left\n", peer)
			}
		},
		OnPeerFailed: func(peer string, err error) {
			fmt.Printf("* gave up on %s: %v\n", peer, err)
		},
		OnChat: func(from string, chat models.ChatPayload) {
			name := chat.SenderName
			if name == "" {
				name = from
			}
			fmt.Printf("<%s> %s\n", name, chat.Text)
		},
		OnTrack: func(peer string, track *webrtc.TrackRemote) {
			fmt.Printf("* receiving %s from %s\n", track.Kind(), peer)
			go func() {
				for {
					if _, _, err := track.ReadRTP(); err != nil {
						return
					}
				}
			}()
		},
	}
}

func readCommands(ctx context.Context, quit context.CancelFunc, in io.Reader, session *mesh.Session, email string) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var err error
		switch line {
		case "/quit":
			quit()
			return
		case "/share":
			var src *mesh.Source
			if src, err = webrtcpeer.ScreenSource("screen"); err == nil {
				err = session.SwapVideo(ctx, src)
			}
		case "/camera":
			err = session.RestoreCamera(ctx)
		case "/peers":
			var links []mesh.LinkStatus
			if links, err = session.Links(ctx); err == nil {
				renderLinks(links)
			}
		default:
			err = session.SendChat(line, "", email)
		}
		if err != nil {
			if signalclient.IsAuthError(err) || ctx.Err() != nil {
				return
			}
			fmt.Println("! " + err.Error())
		}
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagPeerID, "peer", "", "Peer id to join as (default: random)")
	joinCmd.Flags().StringVarP(&flagMedia, "media", "m", "full", "First media mode to try: full, audio, placeholder or none")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}

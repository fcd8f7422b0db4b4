package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/httpapi"
)

// newWatchCommand suit le flux d'événements du serveur jusqu'à sa fermeture,
// à l'annulation de la commande ou après --count événements.
func newWatchCommand(f *remoteFlags) *cobra.Command {
	var (
		topics []string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream business events from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := streamURL(f.server, topics)
			if err != nil {
				return err
			}
			dialer := websocket.Dialer{HandshakeTimeout: f.timeout}
			conn, _, err := dialer.DialContext(cmd.Context(), u, nil)
			if err != nil {
				return fmt.Errorf("websocket connect: %w", err)
			}
			defer conn.Close()

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-cmd.Context().Done():
					_ = conn.Close()
				case <-done:
				}
			}()

			out := cmd.OutOrStdout()
			seen := 0
			for {
				var msg httpapi.StreamMessage
				if err := conn.ReadJSON(&msg); err != nil {
					if ctxErr := cmd.Context().Err(); ctxErr != nil {
						return nil
					}
					var closeErr *websocket.CloseError
					if errors.As(err, &closeErr) {
						return nil
					}
					return fmt.Errorf("read event: %w", err)
				}
				if msg.Type != "event" || msg.Event == nil {
					continue
				}
				evt := msg.Event
				fmt.Fprintf(out, "%s %-20s %s\n", evt.OccurredAt.Format(time.RFC3339), evt.Topic, evt.AggregateID)
				seen++
				if count > 0 && seen >= count {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
					return nil
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "topics to follow (default all)")
	cmd.Flags().IntVar(&count, "count", 0, "stop after n events")
	return cmd
}

func streamURL(server string, topics []string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/events/ws"
	if len(topics) > 0 {
		u.RawQuery = url.Values{"topics": {strings.Join(topics, ",")}}.Encode()
	}
	return u.String(), nil
}

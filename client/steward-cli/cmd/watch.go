package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchTaskID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream task lifecycle events in real time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wsURL, header, err := newClient().EventsURL()
		if err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, header)
		if err != nil {
			return fmt.Errorf("dial %s: %w", wsURL, err)
		}
		defer conn.Close()

		go func() {
			<-cmd.Context().Done()
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}()

		fmt.Println(labelStyle.Render("Connected. Waiting for events..."))
		err = streamEvents(conn, watchTaskID, func(e Event, raw []byte) {
			if rawJSON() {
				fmt.Println(string(raw))
				return
			}
			fmt.Println(renderEvent(e))
		})
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}

type messageReader interface {
	ReadMessage() (int, []byte, error)
}

// streamEvents reads events until the connection closes. Events for other tasks are skipped when taskID is set.
func streamEvents(conn messageReader, taskID string, emit func(Event, []byte)) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		emit(e, data)
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchTaskID, "task", "", "only show events for this task")
	rootCmd.AddCommand(watchCmd)
}

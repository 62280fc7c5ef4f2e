package server

// Contain the ClientUpdater object, which publishes JSON-encoded messages
// giving the latest loop state.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
	"github.com/usnistgov/swpll"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	Tag   string
	State any
}

// publisher is the part of a ZMQ PUB socket the updater needs.
type publisher interface {
	SendMessage(parts ...any) (int, error)
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket, as a two-frame message: the tag, then the JSON state. It
// returns when abort is closed or messages is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	if err := pubSocket.SetLinger(0); err != nil {
		return err
	}
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := pubSocket.Bind(hostname); err != nil {
		return fmt.Errorf("binding status port: %w", err)
	}
	publishUpdates(pubSocket, messages, abort)
	return nil
}

func publishUpdates(pub publisher, messages <-chan ClientUpdate, abort <-chan struct{}) {
	for {
		select {
		case <-abort:
			return
		case update, ok := <-messages:
			if !ok {
				return
			}
			message, err := json.Marshal(update.State)
			if err != nil {
				swpll.ProblemLogger.Printf("Could not encode %s update: %v", update.Tag, err)
				continue
			}
			// STATUS goes out every few seconds; log only the changes.
			if update.Tag != "STATUS" {
				swpll.UpdateLogger.Printf("%s %s", update.Tag, message)
			}
			if _, err := pub.SendMessage(update.Tag, message); err != nil {
				swpll.ProblemLogger.Printf("Could not publish %s update: %v", update.Tag, err)
			}
		}
	}
}

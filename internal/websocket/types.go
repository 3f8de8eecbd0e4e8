package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types sent to browsers.
const (
	MessageReload = "reload"
	MessageHello  = "hello"
)

// client is one connected browser tab.
type client struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// UpdateMessage is the JSON frame pushed to every client.
type UpdateMessage struct {
	Type       string    `json:"type"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
}

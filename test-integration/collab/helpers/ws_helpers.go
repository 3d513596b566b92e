package helpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onsi/gomega"

	"github.com/stacklok/notes-collab-server/internal/collab"
)

// Client is one websocket connection of one user
type Client struct {
	conn *websocket.Conn
}

// Dial opens a websocket with token in the Authorization header
func Dial(url, token string) (*Client, *http.Response, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}
	return &Client{conn: conn}, resp, nil
}

// Close closes the connection
func (c *Client) Close() {
	_ = c.conn.Close()
}

// Send writes one event frame
func (c *Client) Send(event string, data any) {
	raw, err := json.Marshal(data)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	frame, err := json.Marshal(collab.Envelope{Event: event, Data: raw})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(c.conn.WriteMessage(websocket.TextMessage, frame)).To(gomega.Succeed())
}

// Join sends join-note
func (c *Client) Join(noteID string) {
	c.Send(collab.EventJoinNote, map[string]string{"noteId": noteID})
}

// Receive reads the next event, failing after timeout
func (c *Client) Receive(timeout time.Duration) (collab.Envelope, error) {
	var env collab.Envelope
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return env, err
	}
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(frame, &env)
	return env, err
}

// Expect reads the next event and asserts its name
func (c *Client) Expect(event string) collab.Envelope {
	env, err := c.Receive(5 * time.Second)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(env.Event).To(gomega.Equal(event))
	return env
}

// ExpectSilence asserts nothing arrives within d. gorilla/websocket fails
// every read after a timeout, so this must be the client's last read.
func (c *Client) ExpectSilence(d time.Duration) {
	_, err := c.Receive(d)
	var netErr net.Error
	gomega.Expect(errors.As(err, &netErr)).To(gomega.BeTrue(), "expected a read timeout, got %v", err)
	gomega.Expect(netErr.Timeout()).To(gomega.BeTrue())
}

// Decode unmarshals the event payload into dst
func Decode(env collab.Envelope, dst any) {
	gomega.Expect(json.Unmarshal(env.Data, dst)).To(gomega.Succeed())
}

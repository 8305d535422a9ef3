package loadgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Must exceed the server ping period.
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

type client struct {
	id     int
	name   string
	conn   *websocket.Conn
	runner *Runner

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// readLoop counts every chat line the server delivers. Pings are answered
// from inside ReadMessage.
func (c *client) readLoop() {
	defer c.runner.wg.Done()
	defer c.close()

	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		kind, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			c.runner.received.Add(1)
		}
	}
}

func (c *client) chatLoop(ctx context.Context, every time.Duration) {
	defer c.runner.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := c.write(fmt.Sprintf("message %d from %s", n, c.name)); err != nil {
			c.runner.sendErrors.Add(1)
			c.close()
			return
		}
		c.runner.sent.Add(1)
	}
}

func (c *client) write(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.runner.active.Add(-1)
	})
}

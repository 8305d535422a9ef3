package webchat

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errMessageTooLarge = errors.New("webchat: message too large")

// readPump joins the client to the room, relays its text frames as chat and
// runs the leave logic when the socket ends.
func (h *Handler) readPump(c *Client) {
	defer h.wg.Done()
	defer monitoring.RecoverPanic(h.logger, "webchat_readPump", map[string]any{
		"player": c.name,
	})
	defer func() {
		c.ticker.Stop()
		h.room.PlayerLeft(c)
		c.Close()
		h.remove(c)
		h.logger.Info().Str("player", c.name).Msg("Web client disconnected")
	}()

	h.room.PlayerJoined(c)

	control := wsutil.ControlFrameHandler(c, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		hdr, err := rd.NextFrame()
		if err != nil {
			h.logReadError(c, err)
			return
		}

		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				h.logReadError(c, err)
				return
			}
			continue
		}

		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		msg, err := io.ReadAll(io.LimitReader(rd, maxMessageSize+1))
		if err == nil && len(msg) > maxMessageSize {
			err = errMessageTooLarge
		}
		if err != nil {
			h.logReadError(c, err)
			return
		}

		text := strings.TrimSpace(string(msg))
		if text == "" {
			continue
		}
		h.room.Say(c, text)
	}
}

func (h *Handler) logReadError(c *Client, err error) {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) || errors.Is(err, io.EOF) {
		h.logger.Debug().Str("player", c.name).Msg("Web client closed the connection")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	h.logger.Debug().Err(err).Str("player", c.name).Msg("Web client read failed")
}

// writePump writes queued chat lines and pings until the client closes.
func (h *Handler) writePump(c *Client) {
	defer h.wg.Done()
	defer monitoring.RecoverPanic(h.logger, "webchat_writePump", map[string]any{
		"player": c.name,
	})

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(ws.OpText, msg); err != nil {
				h.logger.Debug().Err(err).Str("player", c.name).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.write(ws.OpPing, nil); err != nil {
				h.logger.Debug().Err(err).Str("player", c.name).Msg("Failed to send ping")
				return
			}

		case <-c.done:
			return
		}
	}
}

package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域控制由 CORS 中间件负责，这里不重复校验 Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client 单个 WebSocket 连接。
type Client struct {
	hub       *Hub
	mailboxID string
	conn      *websocket.Conn
	send      chan []byte
	log       *zap.Logger
}

// Handle 返回 WebSocket 升级处理器。
//
// 令牌校验由前置的邮箱认证中间件完成，这里只负责升级与收发循环。
func Handle(hub *Hub, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		mailboxID := c.Param("id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed",
				zap.String("mailbox_id", mailboxID),
				zap.Error(err),
			)
			return
		}

		client := &Client{
			hub:       hub,
			mailboxID: mailboxID,
			conn:      conn,
			send:      make(chan []byte, 16),
			log:       log,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 消费客户端消息，只用于保活与探测断连。
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error",
					zap.String("mailbox_id", c.mailboxID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// writePump 把事件写给客户端并定期发送 ping。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

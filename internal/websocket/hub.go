package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"tempmail/proxy/internal/registry"
)

// 默认的收件轮询间隔。
const defaultPollInterval = 15 * time.Second

// Event 推送给客户端的事件。
type Event struct {
	Type      string    `json:"type"`
	MailboxID string    `json:"mailboxId"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub 按邮箱 ID 分房间的 WebSocket 推送中枢。
//
// 只有存在订阅者的邮箱才会触发上游轮询，房间清空后轮询随之停止。
// 推送内容只有邮件数量变化，正文仍走 HTTP 拉取。
type Hub struct {
	reg          *registry.Registry
	log          *zap.Logger
	pollInterval time.Duration

	register   chan *Client
	unregister chan *Client
	events     chan Event
	// gone 传递已过期或已销毁的邮箱 ID，整个房间随之关闭
	gone chan string

	// rooms 仅由 Run 协程访问
	rooms map[string]map[*Client]struct{}
	// lastCounts 记录每个邮箱上次推送的数量，只推变化
	lastCounts map[string]int
}

// NewHub 创建推送中枢。
func NewHub(reg *registry.Registry, log *zap.Logger) *Hub {
	return &Hub{
		reg:          reg,
		log:          log,
		pollInterval: defaultPollInterval,
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		events:       make(chan Event, 64),
		gone:         make(chan string, 16),
		rooms:        make(map[string]map[*Client]struct{}),
		lastCounts:   make(map[string]int),
	}
}

// Run 驱动注册、注销、轮询与事件分发，直到上下文取消。
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case client := <-h.register:
			room, ok := h.rooms[client.mailboxID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[client.mailboxID] = room
			}
			room[client] = struct{}{}
			h.log.Debug("websocket client joined",
				zap.String("mailbox_id", client.mailboxID),
				zap.Int("room_size", len(room)),
			)

		case client := <-h.unregister:
			if room, ok := h.rooms[client.mailboxID]; ok {
				if _, present := room[client]; present {
					delete(room, client)
					close(client.send)
				}
				if len(room) == 0 {
					delete(h.rooms, client.mailboxID)
					delete(h.lastCounts, client.mailboxID)
				}
			}

		case <-ticker.C:
			for mailboxID := range h.rooms {
				go h.poll(ctx, mailboxID)
			}

		case mailboxID := <-h.gone:
			h.closeRoom(mailboxID)

		case event := <-h.events:
			if h.lastCounts[event.MailboxID] == event.Count {
				continue
			}
			h.lastCounts[event.MailboxID] = event.Count
			h.broadcast(event)
		}
	}
}

// poll 拉取单个邮箱的收件数量并送入事件通道。
//
// 邮箱已过期或已销毁时通知中枢关闭整个房间，停止继续轮询上游。
func (h *Hub) poll(ctx context.Context, mailboxID string) {
	pollCtx, cancel := context.WithTimeout(ctx, h.pollInterval)
	defer cancel()

	messages, err := h.reg.FetchMessages(pollCtx, mailboxID)
	if err != nil {
		if errors.Is(err, registry.ErrMailboxExpired) || errors.Is(err, registry.ErrMailboxNotFound) {
			select {
			case h.gone <- mailboxID:
			case <-ctx.Done():
			}
			return
		}
		h.log.Debug("websocket poll failed",
			zap.String("mailbox_id", mailboxID),
			zap.Error(err),
		)
		return
	}

	select {
	case h.events <- Event{
		Type:      "message_count",
		MailboxID: mailboxID,
		Count:     len(messages),
		Timestamp: time.Now(),
	}:
	case <-ctx.Done():
	}
}

// broadcast 把事件发给房间内的全部客户端，发不动的直接踢掉。
func (h *Hub) broadcast(event Event) {
	room, ok := h.rooms[event.MailboxID]
	if !ok {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	for client := range room {
		select {
		case client.send <- payload:
		default:
			delete(room, client)
			close(client.send)
		}
	}
}

// closeRoom 关闭单个房间的全部客户端并清理状态。
func (h *Hub) closeRoom(mailboxID string) {
	room, ok := h.rooms[mailboxID]
	if !ok {
		return
	}
	for client := range room {
		close(client.send)
	}
	delete(h.rooms, mailboxID)
	delete(h.lastCounts, mailboxID)

	h.log.Debug("websocket room closed, mailbox gone",
		zap.String("mailbox_id", mailboxID),
	)
}

// closeAll 关闭所有客户端连接。
func (h *Hub) closeAll() {
	for mailboxID, room := range h.rooms {
		for client := range room {
			close(client.send)
		}
		delete(h.rooms, mailboxID)
	}
}

package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// TicketEvent 推送给订阅端的工单事件
type TicketEvent struct {
	Type         string      `json:"type"` // ticket_created, status_changed, automation_completed, approval_requested
	TicketID     uint        `json:"ticket_id"`
	TicketNumber string      `json:"ticket_number,omitempty"`
	FromStatus   string      `json:"from_status,omitempty"`
	ToStatus     string      `json:"to_status,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// 事件类型
const (
	EventTicketCreated       = "ticket_created"
	EventStatusChanged       = "status_changed"
	EventAutomationCompleted = "automation_completed"
	EventApprovalRequested   = "approval_requested"
)

type eventClient struct {
	id       string
	ticketID uint // 0 表示订阅全部工单
	conn     *websocket.Conn
	send     chan TicketEvent
	hub      *TicketEventHub
}

// TicketEventHub 工单事件推送中心
// 编排器每次状态迁移后调用 Publish；断开的慢客户端直接剔除，
// 事件流是尽力而为的通知通道，不是可靠投递。
type TicketEventHub struct {
	clients    map[string]*eventClient
	broadcast  chan TicketEvent
	register   chan *eventClient
	unregister chan *eventClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var eventUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

// NewTicketEventHub 创建事件推送中心
func NewTicketEventHub(logger *logrus.Logger) *TicketEventHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketEventHub{
		clients:    make(map[string]*eventClient),
		broadcast:  make(chan TicketEvent, 64),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		logger:     logger,
	}
}

// Run 事件循环，需在独立 goroutine 中运行，ctx 取消后退出
func (h *TicketEventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			h.logger.Infof("event subscriber %s connected (ticket=%d)", client.id, client.ticketID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				h.logger.Infof("event subscriber %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case event := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				if client.ticketID != 0 && client.ticketID != event.TicketID {
					continue
				}
				select {
				case client.send <- event:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Publish 广播一条工单事件，非阻塞
func (h *TicketEventHub) Publish(event TicketEvent) {
	event.Timestamp = time.Now()
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("event broadcast buffer full, dropping event")
	}
}

// HandleWebSocket 升级连接并注册订阅
// 支持 ?ticket_id= 过滤单个工单的事件。
func (h *TicketEventHub) HandleWebSocket(c *gin.Context) {
	conn, err := eventUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	var ticketID uint
	if raw := c.Query("ticket_id"); raw != "" {
		var parsed uint64
		if _, err := fmt.Sscanf(raw, "%d", &parsed); err == nil {
			ticketID = uint(parsed)
		}
	}

	client := &eventClient{
		id:       fmt.Sprintf("sub_%d", time.Now().UnixNano()),
		ticketID: ticketID,
		conn:     conn,
		send:     make(chan TicketEvent, 64),
		hub:      h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// SubscriberCount 当前订阅端数量
func (h *TicketEventHub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump 只维护连接存活，忽略客户端发来的数据帧
func (c *eventClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorf("websocket error: %v", err)
			}
			break
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

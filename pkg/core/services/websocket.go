package services

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// websocketHandler 推送训练任务的epoch/trace/done消息，任务删除时关闭连接
func (s *TrainService) websocketHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Printf("websocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	msgs, cancel := r.Hub().Subscribe()
	defer cancel()

	// 读协程只用于发现客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run deleted"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				log.Printf("websocket写入失败: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}

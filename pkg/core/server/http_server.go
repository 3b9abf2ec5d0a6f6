package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// HTTPServer HTTP服务器
type HTTPServer struct {
	//Gin框架的路由引擎，可通过Router.POST()等方法注册API路由和处理函数
	Router *gin.Engine
	//HTTP服务器监听的端口号
	Port string

	srv *http.Server
}

// NewHTTPServer 创建新的HTTP服务器
func NewHTTPServer(port string) *HTTPServer {
	router := gin.Default()
	return &HTTPServer{
		Router: router,
		Port:   port,
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start 启动HTTP服务器，Stop之后返回nil
func (hs *HTTPServer) Start() error {
	fmt.Printf("训练服务启动中...\n")
	fmt.Printf("监听地址: 0.0.0.0:%s\n", hs.Port)
	fmt.Printf("任务列表: http://localhost:%s/runs\n\n", hs.Port)

	if err := hs.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// Stop 优雅关闭，等待正在处理的请求完成
func (hs *HTTPServer) Stop(ctx context.Context) error {
	return hs.srv.Shutdown(ctx)
}

// GetRouter 获取路由器
func (hs *HTTPServer) GetRouter() *gin.Engine {
	return hs.Router
}

package services

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"sync"

	"MomentumBP/pkg/config"
	"MomentumBP/pkg/core/runs"
	"MomentumBP/pkg/core/server"
	"MomentumBP/pkg/network"
	"MomentumBP/pkg/protocols"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// TrainService 训练服务主结构体
type TrainService struct {
	// 训练任务管理
	Runs *runs.Manager

	// HTTP服务器
	HTTPServer *server.HTTPServer

	// DataDir IDX数据集所在目录，为空时不接受请求中的dataset
	DataDir string

	// 快照加密，首次使用时生成密钥
	sealerOnce sync.Once
	sealer     *protocols.Sealer
	sealerErr  error
}

// NewTrainService 创建训练服务并注册路由
func NewTrainService(port string) *TrainService {
	s := &TrainService{
		Runs:       runs.NewManager(),
		HTTPServer: server.NewHTTPServer(port),
	}
	s.setupRoutes()
	return s
}

// setupRoutes 设置HTTP路由
func (s *TrainService) setupRoutes() {
	router := s.HTTPServer.GetRouter()

	router.POST("/runs", s.createRunHandler)
	router.GET("/runs", s.listRunsHandler)
	router.GET("/runs/:id", s.getRunHandler)
	router.DELETE("/runs/:id", s.deleteRunHandler)

	// 训练控制
	router.POST("/runs/:id/train", s.trainHandler)
	router.POST("/runs/:id/stop", s.stopHandler)

	// 网络读写
	router.POST("/runs/:id/forward", s.forwardHandler)
	router.GET("/runs/:id/weights", s.weightsHandler)
	router.GET("/runs/:id/snapshot", s.getSnapshotHandler)
	router.PUT("/runs/:id/snapshot", s.putSnapshotHandler)
	router.GET("/runs/:id/snapshot/sealed", s.sealedSnapshotHandler)

	// 监控
	router.GET("/runs/:id/loss.svg", s.lossPlotHandler)
	router.GET("/runs/:id/ws", s.websocketHandler)
}

// Start 启动训练服务
func (s *TrainService) Start() error {
	return s.HTTPServer.Start()
}

// Shutdown 停止所有训练并关闭HTTP服务器
func (s *TrainService) Shutdown(ctx context.Context) error {
	s.Runs.Close()
	return s.HTTPServer.Stop(ctx)
}

func (s *TrainService) getSealer() (*protocols.Sealer, error) {
	s.sealerOnce.Do(func() {
		log.Println("生成CKKS密钥...")
		s.sealer, s.sealerErr = protocols.NewSealer()
	})
	return s.sealer, s.sealerErr
}

// ErrDatasetNotAllowed 请求中的数据集路径不被接受
var ErrDatasetNotAllowed = errors.New("dataset not allowed")

// resolveDataset 将请求中的数据集路径限定在DataDir之内
func (s *TrainService) resolveDataset(conf *config.Configuration) error {
	if conf.Dataset == nil {
		return nil
	}
	if s.DataDir == "" {
		return errors.Wrap(ErrDatasetNotAllowed, "service has no data directory")
	}
	src := *conf.Dataset
	for _, p := range []*string{&src.Images, &src.Labels} {
		if !filepath.IsLocal(*p) {
			return errors.Wrapf(ErrDatasetNotAllowed, "%q is not a path inside the data directory", *p)
		}
		*p = filepath.Join(s.DataDir, *p)
	}
	conf.Dataset = &src
	return nil
}

// errorStatus 将错误映射为HTTP状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, runs.ErrRunBusy), errors.Is(err, runs.ErrRunFinished):
		return http.StatusConflict
	case errors.Is(err, network.ErrShapeMismatch),
		errors.Is(err, network.ErrSnapshotShape),
		errors.Is(err, network.ErrInvalidTopology),
		errors.Is(err, network.ErrInvalidHyperparameters),
		errors.Is(err, config.ErrInvalidTestSet),
		errors.Is(err, config.ErrInvalidOption),
		errors.Is(err, ErrDatasetNotAllowed):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWithError(ctx *gin.Context, err error) {
	ctx.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

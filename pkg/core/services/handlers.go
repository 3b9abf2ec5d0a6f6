package services

import (
	"net/http"

	"MomentumBP/pkg/config"
	"MomentumBP/pkg/core/runs"
	"MomentumBP/pkg/network"

	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/mat"
)

// CreateRunRequest 创建训练任务的请求体，未给出的字段使用默认配置
type CreateRunRequest struct {
	*config.Configuration
	StreamTrace bool `json:"stream_trace"`
}

// ForwardRequest 前向传播请求体
type ForwardRequest struct {
	Input []float64 `json:"input"`
}

// SnapshotBody 权重增量快照
type SnapshotBody struct {
	Shape  [][]int          `json:"shape,omitempty"`
	Layers network.Snapshot `json:"layers"`
}

// ==================== HTTP处理器方法 ====================

func (s *TrainService) run(ctx *gin.Context) (*runs.Run, bool) {
	r, err := s.Runs.Get(ctx.Param("id"))
	if err != nil {
		abortWithError(ctx, err)
		return nil, false
	}
	return r, true
}

// createRunHandler 创建训练任务处理器
func (s *TrainService) createRunHandler(ctx *gin.Context) {
	req := CreateRunRequest{Configuration: config.Default()}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := s.resolveDataset(req.Configuration); err != nil {
		abortWithError(ctx, err)
		return
	}
	r, err := s.Runs.Create(req.Configuration, req.StreamTrace)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"run_id": r.ID, "status": r.Status()})
}

func (s *TrainService) listRunsHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"runs": s.Runs.List()})
}

func (s *TrainService) getRunHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": r.Status(), "history": r.History()})
}

func (s *TrainService) deleteRunHandler(ctx *gin.Context) {
	if err := s.Runs.Delete(ctx.Param("id")); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// trainHandler 在后台开始训练，立即返回
func (s *TrainService) trainHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	if err := r.Start(); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"status": r.Status()})
}

// stopHandler 当前轮结束后停止
func (s *TrainService) stopHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	if done := r.Stop(); done != nil {
		select {
		case <-done:
		case <-ctx.Request.Context().Done():
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"status": r.Status()})
}

func (s *TrainService) forwardHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	var req ForwardRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, input required"})
		return
	}
	out, err := r.Forward(req.Input)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"output": out})
}

// weightsHandler 每层 神经元数 x 输入宽度 的权重，最后一列为偏置权重
func (s *TrainService) weightsHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	ws, err := r.Weights()
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	layers := make([][][]float64, len(ws))
	for i, w := range ws {
		rows, _ := w.Dims()
		layers[i] = make([][]float64, rows)
		for j := 0; j < rows; j++ {
			layers[i][j] = mat.Row(nil, j, w)
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"layers": layers})
}

func (s *TrainService) getSnapshotHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	snap, err := r.Snapshot()
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, SnapshotBody{Shape: snap.Shape(), Layers: snap})
}

func (s *TrainService) putSnapshotHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	var body SnapshotBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, layers required"})
		return
	}
	if err := r.Restore(body.Layers); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "restored"})
}

// sealedSnapshotHandler 返回CKKS加密后的快照
func (s *TrainService) sealedSnapshotHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	snap, err := r.Snapshot()
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	sealer, err := s.getSealer()
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	sealed, err := sealer.Seal(snap)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	payload, err := sealed.Marshal()
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payload)
}

func (s *TrainService) lossPlotHandler(ctx *gin.Context) {
	r, ok := s.run(ctx)
	if !ok {
		return
	}
	svg, err := lossPlot(r.ID, r.History(), 640, 360)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "image/svg+xml", svg)
}

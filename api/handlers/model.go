package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/longtask/api"
	"github.com/BaSui01/longtask/runners/deletemodel"
	"github.com/BaSui01/longtask/task"
	"go.uber.org/zap"
)

// =============================================================================
// 🗑️ 模型删除 Handler
// =============================================================================

// ModelDeleter 模型删除操作，*deletemodel.Service 即满足
type ModelDeleter interface {
	FullyDeleteModel(ctx context.Context, modelID string) (*task.Task, error)
	CancelDeleteModel(ctx context.Context, modelID string) (*task.Task, error)
	DeletionStatus(ctx context.Context, modelID string) (*deletemodel.Status, error)
}

// ModelHandler 模型删除处理器
type ModelHandler struct {
	svc    ModelDeleter
	logger *zap.Logger
}

// NewModelHandler 创建模型删除处理器
func NewModelHandler(svc ModelDeleter, logger *zap.Logger) *ModelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandler{svc: svc, logger: logger.With(zap.String("component", "model_handler"))}
}

// Register 注册模型删除路由
func (h *ModelHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/models/{id}/delete", h.HandleDelete)
	mux.HandleFunc("DELETE /api/v1/models/{id}/delete", h.HandleCancel)
	mux.HandleFunc("GET /api/v1/models/{id}/delete", h.HandleStatus)
}

// HandleDelete 启动模型删除；已在删除中返回 409 ALREADY_BEING_DELETED
func (h *ModelHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.FullyDeleteModel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusAccepted, t)
}

// HandleCancel 中止正在删除该模型的任务
func (h *ModelHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.CancelDeleteModel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, t)
}

// HandleStatus 返回删除检查点与所属任务
func (h *ModelHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.DeletionStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	out := api.ModelDeletion{
		ModelID:   st.ModelID,
		TaskID:    st.Checkpoint.TaskID,
		StartedBy: st.Checkpoint.Owner.ID,
		StartedOn: st.Checkpoint.CreatedOn,
	}
	if st.Task != nil {
		out.Status = string(st.Task.Status)
		out.Task = st.Task
	}
	WriteSuccess(w, r, out)
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"opay/internal/metrics"
	"opay/internal/scan"
	"opay/internal/wizard"
	"opay/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	// 来源不限，靠 access_token 鉴权
	CheckOrigin: func(r *http.Request) bool { return true },
}

type startWizardBody struct {
	Flow string `json:"flow" binding:"required,oneof=flexy_deposit qr_transfer gift_card_redeem"`
}

// StartWizard POST /api/v1/wizard
func (h *Handler) StartWizard(c *gin.Context) {
	var body startWizardBody
	if !bind(c, &body) {
		return
	}

	sess, err := h.svc.Wizard.Start(c.Request.Context(), userID(c), body.Flow)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// GetWizard GET /api/v1/wizard/:id
func (h *Handler) GetWizard(c *gin.Context) {
	sess, err := h.svc.Wizard.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// NextWizard 合并表单字段后前进一步，最后一步会提交申请
// POST /api/v1/wizard/:id/next
func (h *Handler) NextWizard(c *gin.Context) {
	var patch wizard.Data
	if c.Request.ContentLength > 0 && !bind(c, &patch) {
		return
	}

	sess, err := h.svc.Wizard.Next(c.Request.Context(), userID(c), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// BackWizard POST /api/v1/wizard/:id/back
func (h *Handler) BackWizard(c *gin.Context) {
	sess, err := h.svc.Wizard.Back(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// CancelWizard DELETE /api/v1/wizard/:id
func (h *Handler) CancelWizard(c *gin.Context) {
	if err := h.svc.Wizard.Cancel(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// cameraResult 识别成功后推给客户端
type cameraResult struct {
	Type    string          `json:"type"`
	Code    string          `json:"code,omitempty"`
	Session *wizard.Session `json:"session,omitempty"`
	Message string          `json:"message,omitempty"`
}

// WizardCamera 摄像头扫码，每条文本消息是一帧解码结果
// GET /api/v1/wizard/:id/camera (websocket)
//
// 【关键点】
//  1. 升级前校验会话停在 camera 步骤，否则按普通错误返回；登记时再校验一次
//  2. 会话登记到注册表，离开 camera 步骤/关闭向导/重新打开时由服务层释放
//  3. 匹配成功先写结果再释放；连接断开 Run 退出同样释放
func (h *Handler) WizardCamera(c *gin.Context) {
	uid, id := userID(c), c.Param("id")

	kind, err := h.svc.Wizard.OpenCamera(c.Request.Context(), uid, id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket 升级失败", zap.String("wizard_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	stream := scan.NewWebSocketStream(conn)
	cam := scan.NewSession(uuid.NewString(), stream, scan.NewPayloadDecoder(kind))

	// 连接断开由 stream 关闭感知，不跟随请求 ctx
	ctx := context.WithoutCancel(c.Request.Context())
	cam.OnMatch = func(code string) {
		sess, err := h.svc.Wizard.CameraMatched(ctx, uid, id, code)
		if err != nil {
			_ = stream.WriteJSON(cameraResult{Type: "error", Message: err.Error()})
			return
		}
		_ = stream.WriteJSON(cameraResult{Type: "matched", Code: code, Session: sess})
	}

	if err := h.svc.Wizard.AttachCamera(ctx, uid, id, cam); err != nil {
		// 登记失败时扫码会话已释放，连接随之关闭
		h.log.Debug("摄像头登记失败", zap.String("wizard_id", id), zap.Error(err))
		return
	}
	metrics.ScanSessions.Inc()
	defer func() {
		h.svc.Wizard.DetachCamera(id, cam)
		metrics.ScanSessions.Dec()
	}()

	code, err := cam.Run(ctx)
	switch {
	case err == nil:
		h.log.Info("扫码成功", zap.String("wizard_id", id), zap.String("kind", kind), zap.Int("code_len", len(code)))
	case errors.Is(err, scan.ErrReleased), errors.Is(err, scan.ErrStreamClosed):
		h.log.Debug("扫码会话结束", zap.String("wizard_id", id), zap.Error(err))
	default:
		h.log.Warn("扫码会话异常退出", zap.String("wizard_id", id), zap.Error(err))
	}
}

package handler

import (
	"context"
	"io"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"opay/pkg/response"
)

const maxReceiptSize = 5 << 20

// 凭证只收图片和 PDF，按内容识别，不信任客户端给的 Content-Type
var receiptTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// ObjectUploader 对象存储，*backend.Client 实现
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	PublicURL(bucket, path string) string
}

// UploadReceipt 上传转账凭证，返回的 path 填到充值申请的 receipt_path
// POST /api/v1/receipts (multipart, 字段 file)
func (h *Handler) UploadReceipt(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "file 不能为空")
		return
	}
	if fh.Size > maxReceiptSize {
		response.ParamError(c, "文件不能超过 5MB")
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.ParamError(c, "读取文件失败")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReceiptSize+1))
	if err != nil || len(data) > maxReceiptSize {
		response.ParamError(c, "读取文件失败")
		return
	}

	mt := mimetype.Detect(data)
	ext, ok := receiptTypes[mt.String()]
	if !ok {
		response.ParamError(c, "只支持 JPG/PNG/WEBP/PDF")
		return
	}

	// 按用户分目录，存储桶策略据此限制读写
	objectPath := path.Join(userID(c), uuid.NewString()+ext)
	if err := h.svc.Objects.Upload(c.Request.Context(), h.svc.ReceiptsBucket, objectPath, data, mt.String()); err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info("凭证已上传", zap.String("user_id", userID(c)), zap.String("path", objectPath), zap.Int("size", len(data)))
	response.Success(c, gin.H{
		"path": objectPath,
		"url":  h.svc.Objects.PublicURL(h.svc.ReceiptsBucket, objectPath),
	})
}

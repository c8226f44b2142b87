package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-recall/backend/internal/service/retrieval"
	"github.com/zhouzirui/z-recall/backend/pkg/utils"
)

// maxUploadBytes 上传文件大小上限
const maxUploadBytes = 32 << 20

// Ingester 将文件切分并写入向量库
type Ingester interface {
	IngestFile(ctx context.Context, path, collection string) (int, error)
}

// Handler 文档上传处理器
type Handler struct {
	ingester  Ingester
	uploadDir string
}

// New 创建文档处理器，ingester 为空时上传接口返回 503
func New(ingester Ingester, uploadDir string) *Handler {
	return &Handler{ingester: ingester, uploadDir: uploadDir}
}

// RegisterRoutes 注册文档相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents", h.handleUpload)
}

// UploadResponse 上传结果
type UploadResponse struct {
	Filename   string `json:"filename"`
	Collection string `json:"collection"`
	Chunks     int    `json:"chunks"`
}

// handleUpload 保存上传文件并导入检索库
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, retrieval.ErrUnavailable.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !retrieval.Supported(filename) {
		utils.RespondError(w, http.StatusBadRequest, retrieval.ErrUnsupportedFileType.Error())
		return
	}

	path, err := h.save(filename, file)
	if err != nil {
		log.Printf("[documents] failed to save upload %s: %v", filename, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	collection := retrieval.SanitizeCollectionName(filename)
	chunks, err := h.ingester.IngestFile(r.Context(), path, collection)
	if err != nil {
		if errors.Is(err, retrieval.ErrUnsupportedFileType) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[documents] ingest failed for %s: %v", filename, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to index document")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, UploadResponse{
		Filename:   filename,
		Collection: collection,
		Chunks:     chunks,
	})
}

func (h *Handler) save(filename string, src io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(h.uploadDir, filename)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return path, nil
}

package indexapi

import "github.com/crit-tech/gms-notebook-server/internal/filetype"

// CheckItem 一个文件的指纹
type CheckItem struct {
	ID          string `json:"id"`
	ContentHash string `json:"contentHash"`
}

// CheckRequest POST /indexing/check 请求体
type CheckRequest struct {
	Files []CheckItem `json:"files"`
}

// CheckResponse 索引服务认为已变化的文件 ID (不在索引中，或 hash 不同)
type CheckResponse struct {
	ChangedFiles []string `json:"changedFiles"`
}

// FileUpload POST /indexing/file 请求体
// Content 为 nil 时整个字段省略，服务端只刷新元数据
type FileUpload struct {
	ID          string        `json:"id"`
	ContentHash string        `json:"contentHash"`
	FileType    filetype.Type `json:"fileType"`
	Content     *string       `json:"content,omitempty"`
}

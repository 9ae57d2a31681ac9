package indexapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const (
	// 相对于 BaseURL (默认 https://gmsnotebook.com/api)
	CheckPath = "/indexing/check"
	FilePath  = "/indexing/file"

	HeaderAPIKey     = "x-api-key"
	HeaderPort       = "x-port"
	HeaderProviderID = "x-provider-id"

	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "gms-notebook-server"
)

// Options 初始化参数
type Options struct {
	BaseURL    string
	APIKey     string // 索引凭证，可为空
	Port       int    // 文件夹服务的监听端口
	ProviderID string // 可为空
	Timeout    time.Duration
	UserAgent  string
}

// Client 索引服务 HTTP 客户端
type Client struct {
	opts       *Options
	httpClient *req.Client
}

// NewClient 创建客户端，每个请求都会带上凭证、端口和 provider 头
func NewClient(opts *Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	httpClient := req.C().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetUserAgent(opts.UserAgent).
		SetCommonHeader(HeaderAPIKey, opts.APIKey).
		SetCommonHeader(HeaderPort, strconv.Itoa(opts.Port)).
		SetCommonHeader(HeaderProviderID, opts.ProviderID)

	return &Client{opts: opts, httpClient: httpClient}, nil
}

// CheckChanged 一次性发送本轮扫描的全部指纹，返回需要重新上传的文件 ID
func (c *Client) CheckChanged(ctx context.Context, files []CheckItem) ([]string, error) {
	if files == nil {
		files = []CheckItem{}
	}

	var result CheckResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(&CheckRequest{Files: files}).
		SetSuccessResult(&result).
		Post(CheckPath)

	if err := checkResponse(resp, err, "indexing check", http.StatusOK); err != nil {
		return nil, err
	}
	return result.ChangedFiles, nil
}

// UploadFile 上传单个文件，服务端成功时返回 204
func (c *Client) UploadFile(ctx context.Context, file *FileUpload) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(file).
		Post(FilePath)

	return checkResponse(resp, err, "indexing file "+file.ID, http.StatusNoContent)
}

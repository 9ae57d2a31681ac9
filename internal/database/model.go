package database

import (
	"strconv"
	"time"
)

// SourceState 一个文件夹源在上一次索引完成时的状态
// 存入数据库时会序列化为 JSON
type SourceState struct {
	// 监听端口 (同时作为数据库 Key)
	Port int `json:"port"`

	// 本地根目录，仅用于排查
	Folder string `json:"folder"`

	// 上一次完整索引结束的时间，零值表示从未执行过
	LastFullIndex time.Time `json:"last_full_index"`

	// 上一次索引的结果 (用于状态展示)
	LastError    string `json:"last_error,omitempty"`
	LastUploaded int    `json:"last_uploaded"`
	LastFailed   int    `json:"last_failed"`
}

func portKey(port int) []byte {
	return []byte(strconv.Itoa(port))
}

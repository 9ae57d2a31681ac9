package sync

import "time"

// Report 一轮同步的统计
type Report struct {
	PassID     string
	Scanned    int   // 扫描到的文件数
	TotalBytes int64 // 扫描到的文件总大小
	Changed    int   // 索引服务认为已变化的文件数
	Uploaded   int   // 上传成功
	Skipped    int   // 没有可索引内容，跳过
	Failed     int   // 上传或提取失败
	Failures   []Failure
	Duration   time.Duration
}

// Failure 单个文件的失败记录
type Failure struct {
	ID  string
	Err error
}

func (r *Report) fail(id string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{ID: id, Err: err})
}

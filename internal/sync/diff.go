package sync

import (
	"github.com/crit-tech/gms-notebook-server/internal/fs"
	"github.com/crit-tech/gms-notebook-server/internal/indexapi"
	mapset "github.com/deckarep/golang-set/v2"
)

// fingerprints 生成发给 /indexing/check 的指纹列表
func fingerprints(files []*fs.FileRecord) []indexapi.CheckItem {
	items := make([]indexapi.CheckItem, 0, len(files))
	for _, f := range files {
		items = append(items, indexapi.CheckItem{ID: f.ID, ContentHash: f.ContentHash})
	}
	return items
}

// selectChanged 按扫描顺序挑出服务端报告为已变化的文件
// unknown 为服务端返回了、但本轮扫描中不存在的 ID
func selectChanged(files []*fs.FileRecord, changedIDs []string) (toIndex []*fs.FileRecord, unknown []string) {
	if len(changedIDs) == 0 {
		return nil, nil
	}

	changed := mapset.NewThreadUnsafeSet(changedIDs...)
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(changedIDs))
	for _, f := range files {
		if changed.Contains(f.ID) && !seen.Contains(f.ID) {
			toIndex = append(toIndex, f)
			seen.Add(f.ID)
		}
	}

	for _, id := range changedIDs {
		if !seen.Contains(id) {
			unknown = append(unknown, id)
		}
	}
	return toIndex, unknown
}

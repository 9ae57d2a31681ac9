package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// BucketName 是数据库中的“表名”
	BucketName = "SourceStates"
)

// ErrNotFound 数据库中没有该文件夹源的记录
var ErrNotFound = errors.New("source state not found")

// DB 封装 BoltDB 实例
type DB struct {
	conn *bbolt.DB
}

// NewBoltDB 初始化并打开数据库
func NewBoltDB(dbPath string) (*DB, error) {
	// 打开数据库，如果文件不存在则创建
	// Timeout 选项防止两个进程同时打开同一个数据库导致死锁
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	// 确保 Bucket 存在
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketName))
		return err
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	return d.conn.Close()
}

// Get 获取单个文件夹源的状态，没有记录时返回 ErrNotFound
func (d *DB) Get(port int) (*SourceState, error) {
	var state SourceState
	err := d.conn.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		v := b.Get(portKey(port))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &state)
	})

	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Delete 删除文件夹源的记录 (当文件夹源被移除时调用)
func (d *DB) Delete(port int) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		return b.Delete(portKey(port))
	})
}

// ListAll 获取所有文件夹源的状态
func (d *DB) ListAll() (map[int]*SourceState, error) {
	result := make(map[int]*SourceState)

	err := d.conn.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))

		return b.ForEach(func(k, v []byte) error {
			var state SourceState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("decode state key=%s: %w", string(k), err)
			}
			result[state.Port] = &state
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

// LastFullIndex 返回上一次完整索引的时间，从未执行过时为零值
func (d *DB) LastFullIndex(port int) (time.Time, error) {
	state, err := d.Get(port)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return state.LastFullIndex, nil
}

// RecordPass 在一轮索引结束后更新时间戳和结果 (读-改-写在同一个事务中)
func (d *DB) RecordPass(port int, folder string, at time.Time, uploaded, failed int, passErr error) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))

		state := SourceState{Port: port}
		if v := b.Get(portKey(port)); v != nil {
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("decode state port=%d: %w", port, err)
			}
		}

		state.Folder = folder
		state.LastFullIndex = at
		state.LastUploaded = uploaded
		state.LastFailed = failed
		state.LastError = ""
		if passErr != nil {
			state.LastError = passErr.Error()
		}

		data, err := json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		return b.Put(portKey(port), data)
	})
}

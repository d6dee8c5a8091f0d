package service

import (
	"bytes"
	"context"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/util"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArtifactStore 保存当前模型文件（不透明的字节）。
// Save 必须是原子替换：读者只能看到旧文件或完整的新文件。
type ArtifactStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Describe() string
}

// LocalArtifactStore 写临时文件 + fsync + rename
type LocalArtifactStore struct {
	Dir string
	Key string
}

func NewLocalArtifactStore(dir, key string) *LocalArtifactStore {
	return &LocalArtifactStore{Dir: dir, Key: key}
}

func (s *LocalArtifactStore) path() string {
	return filepath.Join(s.Dir, s.Key+".json")
}

func (s *LocalArtifactStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, util.ErrArtifactNotFound
	}
	return data, err
}

func (s *LocalArtifactStore) Save(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.Dir, s.Key+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path())
}

func (s *LocalArtifactStore) Describe() string {
	return "local:" + s.path()
}

// 对象存储没有 rename：先写带版本的对象，再写指向它的 current 指针对象
func pointerKey(key string) string {
	return key + "/current"
}

func blobKey(key string) string {
	return fmt.Sprintf("%s/artifacts/%d-%s.json", key, time.Now().UnixNano(), uuid.New().String())
}

// MinioArtifactStore MinIO 实现
type MinioArtifactStore struct {
	Client *minio.Client
	Bucket string
	Key    string
}

func NewMinioArtifactStore(cfg *config.StorageConfig) (*MinioArtifactStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioArtifactStore{Client: client, Bucket: cfg.MinioBucket, Key: cfg.ModelKey}, nil
}

func (s *MinioArtifactStore) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.Client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, util.ErrArtifactNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *MinioArtifactStore) put(ctx context.Context, key string, data []byte) error {
	_, err := s.Client.PutObject(ctx, s.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (s *MinioArtifactStore) Load(ctx context.Context) ([]byte, error) {
	ptr, err := s.get(ctx, pointerKey(s.Key))
	if err != nil {
		return nil, err
	}
	data, err := s.get(ctx, strings.TrimSpace(string(ptr)))
	if errors.Is(err, util.ErrArtifactNotFound) {
		return nil, fmt.Errorf("%w: pointer references missing object", util.ErrArtifactCorrupt)
	}
	return data, err
}

func (s *MinioArtifactStore) Save(ctx context.Context, data []byte) error {
	key := blobKey(s.Key)
	if err := s.put(ctx, key, data); err != nil {
		return err
	}
	return s.put(ctx, pointerKey(s.Key), []byte(key))
}

func (s *MinioArtifactStore) Describe() string {
	return "minio:" + path.Join(s.Bucket, s.Key)
}

// OSSArtifactStore 阿里云 OSS 实现，与 MinIO 相同的指针方案
type OSSArtifactStore struct {
	Bucket *oss.Bucket
	Key    string
}

func NewOSSArtifactStore(cfg *config.StorageConfig) (*OSSArtifactStore, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSArtifactStore{Bucket: bucket, Key: cfg.ModelKey}, nil
}

func (s *OSSArtifactStore) get(key string) ([]byte, error) {
	body, err := s.Bucket.GetObject(key)
	if err != nil {
		var serr oss.ServiceError
		if errors.As(err, &serr) && serr.Code == "NoSuchKey" {
			return nil, util.ErrArtifactNotFound
		}
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (s *OSSArtifactStore) Load(ctx context.Context) ([]byte, error) {
	ptr, err := s.get(pointerKey(s.Key))
	if err != nil {
		return nil, err
	}
	data, err := s.get(strings.TrimSpace(string(ptr)))
	if errors.Is(err, util.ErrArtifactNotFound) {
		return nil, fmt.Errorf("%w: pointer references missing object", util.ErrArtifactCorrupt)
	}
	return data, err
}

func (s *OSSArtifactStore) Save(ctx context.Context, data []byte) error {
	key := blobKey(s.Key)
	if err := s.Bucket.PutObject(key, bytes.NewReader(data), oss.ContentType("application/json")); err != nil {
		return err
	}
	return s.Bucket.PutObject(pointerKey(s.Key), strings.NewReader(key))
}

func (s *OSSArtifactStore) Describe() string {
	return "oss:" + path.Join(s.Bucket.BucketName, s.Key)
}

// MemoryArtifactStore 进程内实现，用于测试和演练
type MemoryArtifactStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{}
}

func (s *MemoryArtifactStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, util.ErrArtifactNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryArtifactStore) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

func (s *MemoryArtifactStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryArtifactStore) Describe() string {
	return "memory"
}

func NewArtifactStore(cfg *config.StorageConfig) (ArtifactStore, error) {
	switch cfg.Type {
	case util.StorageMinio:
		return NewMinioArtifactStore(cfg)
	case util.StorageOSS:
		return NewOSSArtifactStore(cfg)
	case util.StorageMemory:
		return NewMemoryArtifactStore(), nil
	case util.StorageLocal, "":
		return NewLocalArtifactStore(cfg.LocalPath, cfg.ModelKey), nil
	}
	return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
}

// Package backup отвечает за резервное копирование файлового хранилища
// ссылок в S3-совместимое объектное хранилище и восстановление перед стартом.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const objectPrefix = "posts/"

// Store описывает хранилище, файлы которого подлежат резервному копированию.
// Snapshot отдаёт согласованную копию содержимого файлов.
type Store interface {
	Snapshot() (map[string][]byte, error)
	Dir() string
}

// Options содержит параметры подключения к объектному хранилищу.
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Interval  time.Duration
}

// Manager периодически выгружает файлы хранилища в бакет и умеет
// восстанавливать их перед запуском сервиса.
type Manager struct {
	client   *s3.Client
	bucket   string
	store    Store
	interval time.Duration
	logger   *zap.Logger
}

type manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Files     []string  `json:"files"`
}

// NewManager создаёт менеджер резервного копирования. Если endpoint или бакет
// не заданы, возвращает nil: копирование отключено.
func NewManager(ctx context.Context, store Store, opts Options, logger *zap.Logger) (*Manager, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	return &Manager{
		client:   client,
		bucket:   opts.Bucket,
		store:    store,
		interval: opts.Interval,
		logger:   logger,
	}, nil
}

// Restore скачивает файлы хранилища из бакета в локальный каталог.
// Локальные файлы не перезаписываются: локальная копия всегда новее.
func (m *Manager) Restore(ctx context.Context) error {
	out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(objectPrefix),
	})
	if err != nil {
		return fmt.Errorf("list backup objects: %w", err)
	}

	restored := 0
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		name := path.Base(key)
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		local := filepath.Join(m.store.Dir(), name)
		if _, err := os.Stat(local); err == nil {
			continue
		}

		if err := m.downloadObject(ctx, key, local); err != nil {
			return err
		}
		restored++
	}

	if restored > 0 {
		m.logger.Info("restored payload files from backup", zap.Int("count", restored))
	}
	return nil
}

// Snapshot выгружает все файлы хранилища и манифест снимка в бакет.
func (m *Manager) Snapshot(ctx context.Context) error {
	files, err := m.store.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot payload files: %w", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.putObject(ctx, objectPrefix+name, files[name]); err != nil {
			return err
		}
	}

	man := manifest{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Files:     names,
	}
	raw, err := json.Marshal(man)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	return m.putObject(ctx, "manifests/latest.json", raw)
}

// Run периодически делает снимки хранилища до отмены контекста,
// после отмены выполняет финальный снимок. Ошибки снимков логируются,
// но не останавливают цикл.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.Snapshot(flushCtx); err != nil {
				m.logger.Error("final backup snapshot error", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := m.Snapshot(ctx); err != nil {
				m.logger.Error("backup snapshot error", zap.Error(err))
			}
		}
	}
}

func (m *Manager) putObject(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put backup object %s: %w", key, err)
	}
	return nil
}

func (m *Manager) downloadObject(ctx context.Context, key, local string) error {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get backup object %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read backup object %s: %w", key, err)
	}

	if err := os.WriteFile(local, raw, 0o644); err != nil {
		return fmt.Errorf("write restored file: %w", err)
	}
	return nil
}

package printing

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
)

// Archive складывает отрендеренные этикетки в S3 совместимое хранилище
type Archive struct {
	client *s3.Client
	bucket string
	prefix string
	log    *zap.Logger
}

// NewArchive возвращает nil, если бакет не задан
func NewArchive(ctx context.Context, cfg config.Archive, log *zap.Logger) (*Archive, error) {

	if cfg.Bucket == "" {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации S3: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// minio и подобные ходят по пути, а не по поддомену бакета
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log.Named("archive"),
	}, nil
}

// Key - ключ объекта этикетки заказа
func (a *Archive) Key(orderID string) string {
	return path.Join(a.prefix, orderID+".zpl")
}

// Store загружает ZPL этикетки, nil архив ничего не делает
func (a *Archive) Store(ctx context.Context, orderID, zpl string) error {

	if a == nil {
		return nil
	}

	key := a.Key(orderID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(zpl),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("ошибка загрузки этикетки %s в S3: %w", key, err)
	}

	a.log.Debug("этикетка сохранена", zap.String("bucket", a.bucket), zap.String("key", key))

	return nil
}

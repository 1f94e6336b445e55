package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter 是 *s3.Client 上傳物件所需的最小介面
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Bucket 把作物照片寫進 S3 相容的儲存桶，並組出公開網址
type Bucket struct {
	client         ObjectPutter
	name           string
	prefix         string
	publicEndpoint *url.URL
}

func NewBucket(client ObjectPutter, name, publicBaseURL, prefix string) (*Bucket, error) {
	const op = "NewBucket"
	if name == "" {
		return nil, fmt.Errorf("[%s] bucket name cannot be empty", op)
	}
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	return &Bucket{client: client, name: name, prefix: prefix, publicEndpoint: publicEndpoint}, nil
}

// Put 上傳內容並回傳可公開存取的網址
func (b *Bucket) Put(ctx context.Context, key, contentType string, content []byte) (string, error) {
	const op = "Bucket.Put"
	objectKey := path.Join(b.prefix, key)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload object %s, err=%w", op, objectKey, err)
	}
	uri := *b.publicEndpoint
	uri.Path = path.Join("/", uri.Path, objectKey)
	return uri.String(), nil
}

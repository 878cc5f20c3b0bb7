package storage

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type StorageType uint8

const (
	StorageTypeFile StorageType = 0
	StorageTypeS3   StorageType = 1
)

const (
	SchemeDefault = "default"
	SchemePublic  = "public"
	SchemePrivate = "private"
)

type Bucket struct {
	ID            uint64 `gorm:"primaryKey"`
	CreatedAt     int64
	UpdatedAt     int64
	Name          string `gorm:"type:varchar(200)"`
	Scheme        string `gorm:"type:varchar(20);index"` // public or private
	StorageType   StorageType
	Path          string // Path on a drive or a prefix in a S3 bucket
	Endpoint      string // Custom S3 endpoint, empty for AWS
	Region        string
	AuthDetails   string // Authentication details. In case of S3 bucket - "key:secret"
	SSEEncryption string
}

func (b *Bucket) IsS3() bool {
	return b.StorageType == StorageTypeS3
}

// GetRemotePath prefixes path with the bucket's own prefix, if any
func (b *Bucket) GetRemotePath(path string) string {
	prefix := strings.Trim(b.Path, "/")
	path = strings.TrimLeft(path, "/")
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}

func (b *Bucket) CreateSVC() *s3.S3 {
	cfg := aws.NewConfig().WithRegion(b.Region)
	if b.Region == "" {
		cfg = cfg.WithRegion("us-east-1")
	}
	if b.Endpoint != "" {
		cfg = cfg.WithEndpoint(b.Endpoint).WithS3ForcePathStyle(true)
	}
	if key, secret, found := strings.Cut(b.AuthDetails, ":"); found {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(key, secret, ""))
	}
	sess := session.Must(session.NewSession(cfg))
	return s3.New(sess)
}

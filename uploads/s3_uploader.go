package uploads

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"www.velocidex.com/golang/triage/logging"
)

// Most object store implementations reject parts under 5 MiB except
// the last one.
const (
	min_part_size     = 5 * 1024 * 1024
	default_part_size = 8 * 1024 * 1024
)

var (
	ErrTransferFailed = errors.New("transfer failed")
)

// S3API is the slice of the S3 client the uploader needs. Tests
// install a fake.
type S3API interface {
	CreateMultipartUpload(ctx context.Context,
		params *s3.CreateMultipartUploadInput,
		optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput,
		optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context,
		params *s3.CompleteMultipartUploadInput,
		optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context,
		params *s3.AbortMultipartUploadInput,
		optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type S3Config struct {
	Region   string
	Bucket   string
	Key      string
	Endpoint string

	// Static credentials are optional - the default chain applies
	// when empty.
	CredentialsKey    string
	CredentialsSecret string
	CredentialsToken  string

	BufferSizeMb int64
}

func (self *S3Config) partSize() int64 {
	size := self.BufferSizeMb * 1024 * 1024
	if size == 0 {
		size = default_part_size
	}
	if size < min_part_size {
		size = min_part_size
	}
	return size
}

// NewS3Client builds a real client from the config.
func NewS3Client(ctx context.Context, config S3Config) (S3API, error) {
	load_options := []func(*aws_config.LoadOptions) error{}
	if config.Region != "" {
		load_options = append(load_options,
			aws_config.WithRegion(config.Region))
	}

	if config.CredentialsKey != "" && config.CredentialsSecret != "" {
		load_options = append(load_options,
			aws_config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					config.CredentialsKey,
					config.CredentialsSecret,
					config.CredentialsToken)))
	}

	session, err := aws_config.LoadDefaultConfig(ctx, load_options...)
	if err != nil {
		return nil, err
	}

	s3_options := []func(*s3.Options){}
	if config.Endpoint != "" {
		s3_options = append(s3_options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return s3.NewFromConfig(session, s3_options...), nil
}

// S3Sink streams the archive into a multipart upload. The state
// machine buffers until a part is full, uploads it and records the
// etag; Complete posts the ordered etag list; Abort tears down the
// remote upload.
type S3Sink struct {
	ctx    context.Context
	client S3API
	config S3Config

	upload_id string
	buffer    bytes.Buffer
	parts     []types.CompletedPart
	part_num  int32

	progress *progressReporter
	aborted  bool
	done     bool
}

func NewS3Sink(ctx context.Context, client S3API,
	config S3Config, cb ProgressFunc) (*S3Sink, error) {

	resp, err := client.CreateMultipartUpload(ctx,
		&s3.CreateMultipartUploadInput{
			Bucket: aws.String(config.Bucket),
			Key:    aws.String(config.Key),
		})
	if err != nil {
		return nil, errors.Wrap(ErrTransferFailed, err.Error())
	}

	return &S3Sink{
		ctx:       ctx,
		client:    client,
		config:    config,
		upload_id: aws.ToString(resp.UploadId),
		progress:  newProgressReporter(cb, 0),
	}, nil
}

func (self *S3Sink) Write(buf []byte) (int, error) {
	if self.aborted {
		return 0, errors.Wrap(ErrTransferFailed, "sink aborted")
	}

	n, _ := self.buffer.Write(buf)

	for int64(self.buffer.Len()) >= self.config.partSize() {
		err := self.uploadPart(self.buffer.Next(int(self.config.partSize())))
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func (self *S3Sink) uploadPart(data []byte) error {
	self.part_num++

	resp, err := self.client.UploadPart(self.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(self.config.Bucket),
		Key:        aws.String(self.config.Key),
		UploadId:   aws.String(self.upload_id),
		PartNumber: aws.Int32(self.part_num),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrap(ErrTransferFailed, err.Error())
	}

	self.parts = append(self.parts, types.CompletedPart{
		ETag:       resp.ETag,
		PartNumber: aws.Int32(self.part_num),
	})

	self.progress.add(int64(len(data)))
	return nil
}

// Flush is a no-op: parts under the minimum size can only be sent as
// the final part by Complete.
func (self *S3Sink) Flush() error {
	return nil
}

func (self *S3Sink) Complete() error {
	if self.done {
		return nil
	}

	// The final part may be under the 5 MiB floor.
	if self.buffer.Len() > 0 {
		err := self.uploadPart(self.buffer.Bytes())
		if err != nil {
			return err
		}
		self.buffer.Reset()
	}

	sort.Slice(self.parts, func(i, j int) bool {
		return aws.ToInt32(self.parts[i].PartNumber) <
			aws.ToInt32(self.parts[j].PartNumber)
	})

	_, err := self.client.CompleteMultipartUpload(self.ctx,
		&s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(self.config.Bucket),
			Key:      aws.String(self.config.Key),
			UploadId: aws.String(self.upload_id),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: self.parts,
			},
		})
	if err != nil {
		return errors.Wrap(ErrTransferFailed, err.Error())
	}

	self.done = true
	self.progress.final()

	logging.GetLogger("uploads").Infof(
		"completed multipart upload of s3://%v/%v (%v in %v parts)",
		self.config.Bucket, self.config.Key,
		humanize.Bytes(uint64(self.progress.sent)), len(self.parts))
	return nil
}

// Abort tears down the pending multipart upload so no orphaned parts
// accrue storage. Idempotent.
func (self *S3Sink) Abort() error {
	if self.aborted || self.done {
		return nil
	}
	self.aborted = true

	_, err := self.client.AbortMultipartUpload(self.ctx,
		&s3.AbortMultipartUploadInput{
			Bucket:   aws.String(self.config.Bucket),
			Key:      aws.String(self.config.Key),
			UploadId: aws.String(self.upload_id),
		})
	if err != nil {
		return errors.Wrap(errors.New("remote abort failed"),
			fmt.Sprintf("%v", err))
	}
	return nil
}

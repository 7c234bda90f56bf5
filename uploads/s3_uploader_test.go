package uploads

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 records the multipart conversation and can be told to fail
// after a given number of parts.
type fakeS3 struct {
	mu sync.Mutex

	created   bool
	completed bool
	aborted   int

	parts     map[int32][]byte
	failAfter int32
}

func newFakeS3(failAfter int32) *fakeS3 {
	return &fakeS3{
		parts:     make(map[int32][]byte),
		failAfter: failAfter,
	}
}

func (self *fakeS3) CreateMultipartUpload(ctx context.Context,
	params *s3.CreateMultipartUploadInput,
	optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {

	self.mu.Lock()
	defer self.mu.Unlock()
	self.created = true
	return &s3.CreateMultipartUploadOutput{
		UploadId: aws.String("test-upload-id"),
	}, nil
}

func (self *fakeS3) UploadPart(ctx context.Context,
	params *s3.UploadPartInput,
	optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {

	self.mu.Lock()
	defer self.mu.Unlock()

	part_number := aws.ToInt32(params.PartNumber)
	if self.failAfter > 0 && part_number > self.failAfter {
		return nil, errors.New("connection reset by peer")
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	self.parts[part_number] = data

	return &s3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf("etag-%d", part_number)),
	}, nil
}

func (self *fakeS3) CompleteMultipartUpload(ctx context.Context,
	params *s3.CompleteMultipartUploadInput,
	optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {

	self.mu.Lock()
	defer self.mu.Unlock()

	// Parts must arrive in order.
	last := int32(0)
	for _, part := range params.MultipartUpload.Parts {
		number := aws.ToInt32(part.PartNumber)
		if number <= last {
			return nil, errors.New("parts out of order")
		}
		last = number
	}

	self.completed = true
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (self *fakeS3) AbortMultipartUpload(ctx context.Context,
	params *s3.AbortMultipartUploadInput,
	optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {

	self.mu.Lock()
	defer self.mu.Unlock()
	self.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func testConfig() S3Config {
	return S3Config{
		Bucket: "evidence",
		Key:    "host-20260805_120000.zip",
		// The configured size is below the floor and must be
		// clamped to 5 MiB.
		BufferSizeMb: 1,
	}
}

func TestPartSizeFloor(t *testing.T) {
	config := testConfig()
	assert.Equal(t, int64(5*1024*1024), config.partSize())

	config.BufferSizeMb = 0
	assert.Equal(t, int64(8*1024*1024), config.partSize())

	config.BufferSizeMb = 16
	assert.Equal(t, int64(16*1024*1024), config.partSize())
}

func TestMultipartHappyPath(t *testing.T) {
	fake := newFakeS3(0)
	ctx := context.Background()

	var last Progress
	sink, err := NewS3Sink(ctx, fake, testConfig(), func(p Progress) {
		last = p
	})
	require.NoError(t, err)
	assert.True(t, fake.created)

	// 11 MiB: two full parts plus a small final part.
	payload := make([]byte, 11*1024*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := sink.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	require.NoError(t, sink.Flush())
	require.NoError(t, sink.Complete())

	assert.True(t, fake.completed)
	assert.Equal(t, 0, fake.aborted)
	require.Len(t, fake.parts, 3)

	// The final part is under the floor; the others are exactly the
	// part size.
	assert.Equal(t, 5*1024*1024, len(fake.parts[1]))
	assert.Equal(t, 5*1024*1024, len(fake.parts[2]))
	assert.Equal(t, 1*1024*1024, len(fake.parts[3]))

	reassembled := append(append(
		fake.parts[1], fake.parts[2]...), fake.parts[3]...)
	assert.Equal(t, payload, reassembled)

	assert.Equal(t, int64(len(payload)), last.BytesSent)
}

// The connection drops after part 3; the sink must abort so no
// orphaned multipart state remains.
func TestMidFlightFailureAborts(t *testing.T) {
	fake := newFakeS3(3)
	ctx := context.Background()

	sink, err := NewS3Sink(ctx, fake, testConfig(), nil)
	require.NoError(t, err)

	payload := make([]byte, 25*1024*1024)
	_, err = sink.Write(payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransferFailed))

	require.NoError(t, sink.Abort())
	assert.Equal(t, 1, fake.aborted)
	assert.False(t, fake.completed)

	// Abort is idempotent.
	require.NoError(t, sink.Abort())
	assert.Equal(t, 1, fake.aborted)

	// The sink refuses writes after abort.
	_, err = sink.Write([]byte("more"))
	assert.Error(t, err)
}

func TestCompleteIdempotent(t *testing.T) {
	fake := newFakeS3(0)
	sink, err := NewS3Sink(context.Background(), fake, testConfig(), nil)
	require.NoError(t, err)

	_, err = sink.Write([]byte("small payload"))
	require.NoError(t, err)

	require.NoError(t, sink.Complete())
	require.NoError(t, sink.Complete())

	// Abort after completion is a no-op.
	require.NoError(t, sink.Abort())
	assert.Equal(t, 0, fake.aborted)
}

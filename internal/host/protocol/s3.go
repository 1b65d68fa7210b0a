package protocol

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/params"
)

// S3 implements fs.FsContract over an AWS S3 bucket. Since S3 is a flat
// object store, directories are simulated the usual way: a "directory"
// is any common prefix ending in "/", and CreateDir writes a zero-byte
// marker object at "<path>/".
type S3 struct {
	p params.AwsS3

	client *s3.Client
	wrkdir string
	log    log.FieldLogger
}

// NewS3 builds an unconnected S3 endpoint.
func NewS3(p params.AwsS3) *S3 {
	return &S3{p: p, wrkdir: "/", log: log.WithField(trace.Component, "protocol:s3")}
}

// Connect resolves AWS credentials/region (static keys if given, otherwise
// the default credential chain via the named profile) and probes the
// bucket with a HeadBucket call.
func (b *S3) Connect(ctx context.Context) (fs.Welcome, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if b.p.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(b.p.Region))
	}
	if b.p.Profile != "" {
		optFns = append(optFns, awsconfig.WithSharedConfigProfile(b.p.Profile))
	}
	if b.p.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.p.AccessKey, b.p.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return fs.Welcome{}, trace.Wrap(err, "loading aws config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if b.p.Endpoint != "" {
			o.BaseEndpoint = &b.p.Endpoint
		}
		o.UsePathStyle = b.p.NewPathStyle
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &b.p.Bucket}); err != nil {
		return fs.Welcome{}, trace.ConnectionProblem(err, "head bucket %s", b.p.Bucket)
	}

	b.client = client
	return fs.Welcome{}, nil
}

// Disconnect is a no-op: the S3 SDK client holds no session to tear down.
func (b *S3) Disconnect(ctx context.Context) error {
	b.client = nil
	return nil
}

// IsConnected reports whether HeadBucket has succeeded.
func (b *S3) IsConnected() bool { return b.client != nil }

func (b *S3) key(p string) string {
	return strings.TrimPrefix(strings.TrimPrefix(b.resolve(p), "/"), "")
}

func (b *S3) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return strings.TrimSuffix(b.wrkdir, "/") + "/" + p
}

// Pwd returns the simulated working directory.
func (b *S3) Pwd(ctx context.Context) (string, error) { return b.wrkdir, nil }

// ChangeDir adopts path as the working prefix if at least one object
// exists under it (S3 has no directories to validate against directly).
func (b *S3) ChangeDir(ctx context.Context, p string) (string, error) {
	target := strings.TrimSuffix(b.resolve(p), "/") + "/"
	if target == "/" {
		b.wrkdir = target
		return target, nil
	}
	prefix := strings.TrimPrefix(target, "/")
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &b.p.Bucket, Prefix: &prefix, MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return "", trace.NotFound("%s: no such directory", p)
	}
	b.wrkdir = target
	return target, nil
}

// ListDir lists objects under path one level deep using a delimiter, the
// standard technique for simulating directories in S3.
func (b *S3) ListDir(ctx context.Context, p string) ([]fs.File, error) {
	if b.client == nil {
		return nil, fs.ErrNotConnected("s3")
	}
	prefix := strings.TrimPrefix(strings.TrimSuffix(b.resolve(p), "/")+"/", "/")
	if prefix == "/" {
		prefix = ""
	}
	delim := "/"
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &b.p.Bucket, Prefix: &prefix, Delimiter: &delim,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var files []fs.File
	for _, cp := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
		if name == "" {
			continue
		}
		files = append(files, fs.File{
			Path:     "/" + strings.TrimSuffix(*cp.Prefix, "/"),
			Metadata: fs.Metadata{FileType: fs.TypeDirectory},
		})
	}
	for _, obj := range out.Contents {
		if strings.HasSuffix(*obj.Key, "/") {
			continue
		}
		files = append(files, fs.File{
			Path: "/" + *obj.Key,
			Metadata: fs.Metadata{
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
				FileType: fs.TypeFile,
			},
		})
	}
	return files, nil
}

// Stat issues HeadObject on the path's key and always reports a regular
// file; directory markers (trailing-slash keys) are not recognized.
func (b *S3) Stat(ctx context.Context, p string) (fs.File, error) {
	if b.client == nil {
		return fs.File{}, fs.ErrNotConnected("s3")
	}
	key := b.key(p)
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.p.Bucket, Key: &key})
	if err != nil {
		return fs.File{}, trace.NotFound("%s: %v", p, err)
	}
	return fs.File{
		Path: p,
		Metadata: fs.Metadata{
			Size:     aws.ToInt64(out.ContentLength),
			Modified: aws.ToTime(out.LastModified),
			FileType: fs.TypeFile,
		},
	}, nil
}

// Exists reports whether Stat finds the object.
func (b *S3) Exists(ctx context.Context, p string) (bool, error) {
	_, err := b.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if fs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateDir writes a zero-byte marker object at "<path>/", the usual way
// S3 consoles represent an empty "folder".
func (b *S3) CreateDir(ctx context.Context, p string, mode fs.UnixPex, ignoreExisting bool) error {
	if b.client == nil {
		return fs.ErrNotConnected("s3")
	}
	key := strings.TrimSuffix(b.key(p), "/") + "/"
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &b.p.Bucket, Key: &key, Body: strings.NewReader(""),
	})
	return trace.Wrap(err)
}

// RemoveFile deletes a single object.
func (b *S3) RemoveFile(ctx context.Context, p string) error {
	if b.client == nil {
		return fs.ErrNotConnected("s3")
	}
	key := b.key(p)
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.p.Bucket, Key: &key})
	return trace.Wrap(err)
}

// RemoveDirAll lists every object under the prefix and batch-deletes them.
func (b *S3) RemoveDirAll(ctx context.Context, p string) error {
	if b.client == nil {
		return fs.ErrNotConnected("s3")
	}
	prefix := strings.TrimSuffix(b.key(p), "/") + "/"
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.p.Bucket, Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return trace.Wrap(err)
		}
		var ids []types.ObjectIdentifier
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		if len(ids) == 0 {
			continue
		}
		if _, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &b.p.Bucket, Delete: &types.Delete{Objects: ids},
		}); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Rename copies then deletes, since S3 has no atomic rename.
func (b *S3) Rename(ctx context.Context, src, dst string) error {
	if err := b.Copy(ctx, src, dst); err != nil {
		return err
	}
	return b.RemoveFile(ctx, src)
}

// Copy issues a server-side CopyObject.
func (b *S3) Copy(ctx context.Context, src, dst string) error {
	if b.client == nil {
		return fs.ErrNotConnected("s3")
	}
	srcKey := b.p.Bucket + "/" + b.key(src)
	dstKey := b.key(dst)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket: &b.p.Bucket, Key: &dstKey, CopySource: &srcKey,
	})
	return trace.Wrap(err)
}

// Symlink is unsupported: S3 has no link concept.
func (b *S3) Symlink(ctx context.Context, src, dst string) error {
	return fs.ErrUnsupported("symlink")
}

// Setstat is unsupported: S3 object metadata is immutable after upload
// short of a full re-copy, which the transfer engine never requests.
func (b *S3) Setstat(ctx context.Context, p string, metadata fs.Metadata) error {
	return fs.ErrUnsupported("setstat")
}

// Chmod is unsupported: S3 has no unix permission model.
func (b *S3) Chmod(ctx context.Context, p string, pex fs.UnixPex) error {
	return fs.ErrUnsupported("chmod")
}

// Exec is unsupported: S3 is an object store, not a shell.
func (b *S3) Exec(ctx context.Context, cmd string) (string, error) {
	return "", fs.ErrUnsupported("exec")
}

// Open is unsupported: GetObject has no streaming-before-fully-buffered
// guarantee the bridge can rely on uniformly across backends, so S3 always
// routes through the TempMappedFile fallback via OpenFile/CreateFile.
func (b *S3) Open(ctx context.Context, p string) (fs.ReadStream, error) {
	return nil, fs.ErrUnsupported("open")
}

// Create is unsupported for the same reason as Open.
func (b *S3) Create(ctx context.Context, p string, metadata fs.Metadata) (fs.WriteStream, error) {
	return nil, fs.ErrUnsupported("create")
}

// OpenFile issues GetObject and copies its body into sink.
func (b *S3) OpenFile(ctx context.Context, p string, sink io.Writer) error {
	if b.client == nil {
		return fs.ErrNotConnected("s3")
	}
	key := b.key(p)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.p.Bucket, Key: &key})
	if err != nil {
		return trace.NotFound("%s: %v", p, err)
	}
	defer out.Body.Close()
	_, err = io.Copy(sink, out.Body)
	return trace.Wrap(err)
}

// CreateFile issues PutObject with source as the body.
func (b *S3) CreateFile(ctx context.Context, p string, metadata fs.Metadata, source io.Reader) error {
	if b.client == nil {
		return fs.ErrNotConnected("s3")
	}
	key := b.key(p)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &b.p.Bucket, Key: &key, Body: source})
	return trace.Wrap(err)
}

// OnRead is a no-op: OpenFile already closed the response body.
func (b *S3) OnRead(ctx context.Context, stream fs.ReadStream) error { return nil }

// OnWritten is a no-op: CreateFile already completed the upload.
func (b *S3) OnWritten(ctx context.Context, stream fs.WriteStream) error { return nil }


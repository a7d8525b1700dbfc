// Package source turns the source_uri of a template, script or input into
// local files the staging pipeline can render or copy.
//
// Supported forms are plain paths, file:// URIs and s3://bucket/key. Inputs
// may also be doublestar glob patterns in either a path or an S3 key.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"

	"simgateway/internal/config"
)

// ObjectStore is the subset of the S3 API the resolver uses.
type ObjectStore interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Resolver fetches sources. The S3 client is created on first use.
type Resolver struct {
	storage config.StorageConfig

	mu     sync.Mutex
	client ObjectStore
}

// NewResolver creates a Resolver using the default AWS credential chain for
// s3:// sources.
func NewResolver(storage config.StorageConfig) *Resolver {
	return &Resolver{storage: storage}
}

// NewResolverWithStore creates a Resolver with an explicit object store.
func NewResolverWithStore(store ObjectStore) *Resolver {
	return &Resolver{client: store}
}

// Fetch resolves uri to exactly one local file. Remote objects are downloaded
// under scratchDir keeping their base name.
func (r *Resolver) Fetch(ctx context.Context, uri, scratchDir string) (string, error) {
	if bucket, key, ok := parseS3(uri); ok {
		return r.download(ctx, bucket, key, scratchDir)
	}
	p, err := localPath(uri)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", p)
	}
	return p, nil
}

// Expand resolves uri to one or more local files. Glob patterns are expanded
// and sorted; a pattern with no matches is an error.
func (r *Resolver) Expand(ctx context.Context, uri, scratchDir string) ([]string, error) {
	if !IsGlob(uri) {
		p, err := r.Fetch(ctx, uri, scratchDir)
		if err != nil {
			return nil, err
		}
		return []string{p}, nil
	}

	if bucket, key, ok := parseS3(uri); ok {
		return r.expandS3(ctx, bucket, key, scratchDir)
	}

	pattern, err := localPath(uri)
	if err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return nil, fmt.Errorf("invalid glob pattern %q", uri)
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", uri, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no files match %q", uri)
	}
	sort.Strings(matches)
	return matches, nil
}

// IsGlob reports whether uri contains glob metacharacters.
func IsGlob(uri string) bool {
	return strings.ContainsAny(uri, "*?[{")
}

// BaseName returns the file name a source is staged under.
func BaseName(uri string) string {
	if _, key, ok := parseS3(uri); ok {
		return path.Base(key)
	}
	if p, err := localPath(uri); err == nil {
		return filepath.Base(p)
	}
	return path.Base(uri)
}

func localPath(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid file uri %q: %w", uri, err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("file uri %q names a remote host", uri)
	}
	return u.Path, nil
}

func parseS3(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, bucket != "" && key != ""
}

func (r *Resolver) store(ctx context.Context) (ObjectStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if r.storage.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(r.storage.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = r.storage.S3ForcePathStyle
		},
	}
	if r.storage.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(r.storage.S3Endpoint)
		})
	}
	r.client = s3.NewFromConfig(awsCfg, s3Opts...)
	return r.client, nil
}

func (r *Resolver) download(ctx context.Context, bucket, key, scratchDir string) (string, error) {
	if scratchDir == "" {
		return "", errors.New("scratch directory required for s3 sources")
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(bucket) || !filepath.IsLocal(rel) || filepath.Clean(rel) == "." {
		return "", fmt.Errorf("s3://%s/%s: object path escapes the scratch directory", bucket, key)
	}
	local := filepath.Join(bucket, rel)

	client, err := r.store(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	// Keep the key's directories so two objects with the same base name in
	// one operation cannot collide.
	dest := filepath.Join(scratchDir, "s3", local)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *Resolver) expandS3(ctx context.Context, bucket, pattern, scratchDir string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	client, err := r.store(ctx)
	if err != nil {
		return nil, err
	}

	prefix := staticPrefix(pattern)
	var keys []string
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			if ok, _ := doublestar.Match(pattern, key); ok {
				keys = append(keys, key)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no objects match s3://%s/%s", bucket, pattern)
	}
	sort.Strings(keys)

	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		p, err := r.download(ctx, bucket, key, scratchDir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// staticPrefix returns the part of pattern before its first directory that
// contains a metacharacter.
func staticPrefix(pattern string) string {
	i := strings.IndexAny(pattern, "*?[{")
	if i < 0 {
		return pattern
	}
	slash := strings.LastIndex(pattern[:i], "/")
	if slash < 0 {
		return ""
	}
	return pattern[:slash+1]
}

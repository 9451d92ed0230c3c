package trainer

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
)

// ObjectCommitter uploads artifact files to an S3-compatible bucket. Objects
// land under <prefix>/<basename>.
type ObjectCommitter struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

// Commit uploads every file. Precondition failures are reported as
// conflicts; everything else from the object store is a transient failure.
func (o *ObjectCommitter) Commit(ctx context.Context, _ string, files []string) (CommitResult, error) {
	for _, file := range files {
		key := path.Join(o.Prefix, filepath.Base(file))
		_, err := o.Client.FPutObject(ctx, o.Bucket, key, file, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err == nil {
			continue
		}
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed" {
			return CommitConflict, fmt.Errorf("upload %s: %w", key, err)
		}
		return CommitFailure, fmt.Errorf("upload %s: %w", key, err)
	}
	return CommitOk, nil
}

// Reconcile verifies the bucket is reachable before the next attempt.
func (o *ObjectCommitter) Reconcile(ctx context.Context) error {
	ok, err := o.Client.BucketExists(ctx, o.Bucket)
	if err != nil {
		return fmt.Errorf("probe bucket %s: %w", o.Bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", o.Bucket)
	}
	return nil
}

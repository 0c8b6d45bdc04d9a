package minio

import (
	"errors"
	"net/http"

	"github.com/minio/minio-go/v7"
)

var (
	ErrConnectionFailed = errors.New("minio connection failed")
	ErrObjectNotFound   = errors.New("object not found")
	ErrBucketNotFound   = errors.New("bucket not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrClosed           = errors.New("minio client closed")
)

// TranslateError maps S3 error responses to the sentinels above.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return ErrObjectNotFound
	case "NoSuchBucket":
		return ErrBucketNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return ErrAccessDenied
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrObjectNotFound
	}
	return err
}

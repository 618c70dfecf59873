package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/service/storage"
)

func newLiveService(t *testing.T) (storage.Service, string, string) {
	t.Helper()
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	object := os.Getenv("TEST_STORAGE_OBJECT")
	if bucket == "" || object == "" {
		t.Skip("TEST_STORAGE_BUCKET and TEST_STORAGE_OBJECT are required")
	}

	svc, err := storage.New(context.Background(), nil)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = svc.Close() })
	return svc, bucket, object
}

func TestRead(t *testing.T) {
	svc, bucket, object := newLiveService(t)

	obj, err := svc.Read(context.Background(), bucket, object, 12*1024*1024)
	gt.NoError(t, err).Required()
	gt.Number(t, len(obj.Data)).Greater(0)
}

func TestRead_TooLarge(t *testing.T) {
	svc, bucket, object := newLiveService(t)

	_, err := svc.Read(context.Background(), bucket, object, 1)
	gt.Value(t, model.CodeOf(err)).Equal(model.CodeURLTooLarge)
}

func TestRead_MissingLocation(t *testing.T) {
	svc, bucket, _ := newLiveService(t)

	_, err := svc.Read(context.Background(), bucket, "", 1024)
	gt.Value(t, model.CodeOf(err)).Equal(model.CodeUnsupportedSource)
}

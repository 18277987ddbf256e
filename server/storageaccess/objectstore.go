package storageaccess

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/secrets"
	gzip "github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// WriteMetadataFile writes a serialized metadata document to the given
// location with the warehouse's own server-side credentials, optionally
// gzip-compressed (selected by the write.metadata.compression-codec
// table property upstream). Satisfies the commit engine's
// MetadataWriter interface.
func (b *Broker) WriteMetadataFile(ctx context.Context, warehouseID, location string, body []byte, compress bool) error {
	if compress || strings.HasSuffix(location, ".gz") {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to compress metadata file")
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to finish metadata compression")
		}
		body = buf.Bytes()
	}
	return b.putObject(ctx, warehouseID, location, body)
}

// ReadMetadataFile fetches a metadata document, transparently
// decompressing .gz files. Used by registerTable to validate a
// client-supplied metadata location before adopting it.
func (b *Broker) ReadMetadataFile(ctx context.Context, warehouseID, location string) ([]byte, error) {
	raw, err := b.getObject(ctx, warehouseID, location)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(location, ".gz") {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "metadata file is not valid gzip")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to decompress metadata file")
	}
	return out, nil
}

func (b *Broker) putObject(ctx context.Context, warehouseID, location string, body []byte) error {
	wh, cred, err := b.warehouseAndCredential(ctx, warehouseID)
	if err != nil {
		return err
	}
	switch wh.Flavor {
	case "s3":
		client, bucket, key, err := b.s3Client(wh, cred, location)
		if err != nil {
			return err
		}
		_, err = client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			return errors.Wrap(errors.CommonStorageUnavailable, err, "s3 put failed")
		}
		return nil
	case "adls2":
		client, container, blob, err := b.azureClient(wh, cred, location)
		if err != nil {
			return err
		}
		if _, err := client.UploadBuffer(ctx, container, blob, body, nil); err != nil {
			return errors.Wrap(errors.CommonStorageUnavailable, err, "adls upload failed")
		}
		return nil
	case "gcs":
		client, bucket, key, err := b.gcsClient(ctx, cred, location)
		if err != nil {
			return err
		}
		defer client.Close()
		w := client.Bucket(bucket).Object(key).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, err := w.Write(body); err != nil {
			_ = w.Close()
			return errors.Wrap(errors.CommonStorageUnavailable, err, "gcs write failed")
		}
		if err := w.Close(); err != nil {
			return errors.Wrap(errors.CommonStorageUnavailable, err, "gcs write close failed")
		}
		return nil
	default:
		return errors.Newf(ErrStorageFlavor, "warehouse %q has unknown storage flavor %q", wh.ID, wh.Flavor)
	}
}

func (b *Broker) getObject(ctx context.Context, warehouseID, location string) ([]byte, error) {
	wh, cred, err := b.warehouseAndCredential(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	switch wh.Flavor {
	case "s3":
		client, bucket, key, err := b.s3Client(wh, cred, location)
		if err != nil {
			return nil, err
		}
		obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "s3 get failed")
		}
		defer obj.Close()
		body, err := io.ReadAll(obj)
		if err != nil {
			return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "s3 read failed")
		}
		return body, nil
	case "adls2":
		client, container, blob, err := b.azureClient(wh, cred, location)
		if err != nil {
			return nil, err
		}
		resp, err := client.DownloadStream(ctx, container, blob, nil)
		if err != nil {
			return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "adls download failed")
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "adls read failed")
		}
		return body, nil
	case "gcs":
		client, bucket, key, err := b.gcsClient(ctx, cred, location)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		r, err := client.Bucket(bucket).Object(key).NewReader(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "gcs read failed")
		}
		defer r.Close()
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "gcs read failed")
		}
		return body, nil
	default:
		return nil, errors.Newf(ErrStorageFlavor, "warehouse %q has unknown storage flavor %q", wh.ID, wh.Flavor)
	}
}

// DeleteObject removes a single object. Satisfies the task handlers'
// ObjectRemover interface alongside DeletePrefix.
func (b *Broker) DeleteObject(ctx context.Context, warehouseID, location string) error {
	wh, cred, err := b.warehouseAndCredential(ctx, warehouseID)
	if err != nil {
		return err
	}
	switch wh.Flavor {
	case "s3":
		client, bucket, key, err := b.s3Client(wh, cred, location)
		if err != nil {
			return err
		}
		if err := client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrap(errors.CommonStorageUnavailable, err, "s3 delete failed")
		}
		return nil
	case "adls2":
		client, container, blob, err := b.azureClient(wh, cred, location)
		if err != nil {
			return err
		}
		if _, err := client.DeleteBlob(ctx, container, blob, nil); err != nil {
			return errors.Wrap(errors.CommonStorageUnavailable, err, "adls delete failed")
		}
		return nil
	case "gcs":
		client, bucket, key, err := b.gcsClient(ctx, cred, location)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
			return errors.Wrap(errors.CommonStorageUnavailable, err, "gcs delete failed")
		}
		return nil
	default:
		return errors.Newf(ErrStorageFlavor, "warehouse %q has unknown storage flavor %q", wh.ID, wh.Flavor)
	}
}

// DeletePrefix removes every object under a prefix, the purge task's
// primitive. Deletion is streamed; a failure part-way is fine because
// the purge task replays idempotently.
func (b *Broker) DeletePrefix(ctx context.Context, warehouseID, prefix string) error {
	wh, cred, err := b.warehouseAndCredential(ctx, warehouseID)
	if err != nil {
		return err
	}
	switch wh.Flavor {
	case "s3":
		client, bucket, key, err := b.s3Client(wh, cred, prefix)
		if err != nil {
			return err
		}
		objects := client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: key + "/", Recursive: true})
		for result := range client.RemoveObjects(ctx, bucket, toRemoveChannel(objects), minio.RemoveObjectsOptions{}) {
			if result.Err != nil {
				return errors.Wrap(errors.CommonStorageUnavailable, result.Err, "s3 prefix delete failed")
			}
		}
		return nil
	case "adls2":
		client, container, dir, err := b.azureClient(wh, cred, prefix)
		if err != nil {
			return err
		}
		pager := client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &dir})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return errors.Wrap(errors.CommonStorageUnavailable, err, "adls list failed")
			}
			for _, item := range page.Segment.BlobItems {
				if _, err := client.DeleteBlob(ctx, container, *item.Name, nil); err != nil {
					return errors.Wrap(errors.CommonStorageUnavailable, err, "adls prefix delete failed")
				}
			}
		}
		return nil
	case "gcs":
		client, bucket, key, err := b.gcsClient(ctx, cred, prefix)
		if err != nil {
			return err
		}
		defer client.Close()
		it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: key + "/"})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return nil
			}
			if err != nil {
				return errors.Wrap(errors.CommonStorageUnavailable, err, "gcs list failed")
			}
			if err := client.Bucket(bucket).Object(attrs.Name).Delete(ctx); err != nil {
				return errors.Wrap(errors.CommonStorageUnavailable, err, "gcs prefix delete failed")
			}
		}
	default:
		return errors.Newf(ErrStorageFlavor, "warehouse %q has unknown storage flavor %q", wh.ID, wh.Flavor)
	}
}

func toRemoveChannel(objects <-chan minio.ObjectInfo) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		for obj := range objects {
			if obj.Err == nil {
				out <- obj
			}
		}
	}()
	return out
}

func (b *Broker) warehouseAndCredential(ctx context.Context, warehouseID string) (*catalogstore.Warehouse, secrets.Credential, error) {
	wh, err := b.store.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, nil, err
	}
	cred, err := b.warehouseCredential(ctx, wh)
	if err != nil {
		return nil, nil, err
	}
	return wh, cred, nil
}

func (b *Broker) s3Client(wh *catalogstore.Warehouse, cred secrets.Credential, location string) (*minio.Client, string, string, error) {
	bucket, key, err := splitS3Location(location)
	if err != nil {
		return nil, "", "", err
	}
	endpoint := wh.Endpoint
	secure := true
	if endpoint == "" {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", wh.Region)
	} else {
		if strings.HasPrefix(endpoint, "http://") {
			secure = false
		}
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cred["access-key-id"], cred["secret-access-key"], cred["session-token"]),
		Secure: secure,
		Region: wh.Region,
	})
	if err != nil {
		return nil, "", "", errors.Wrap(errors.CommonStorageUnavailable, err, "failed to build s3 client")
	}
	return client, bucket, key, nil
}

func (b *Broker) azureClient(wh *catalogstore.Warehouse, cred secrets.Credential, location string) (*azblob.Client, string, string, error) {
	container, blob, err := splitADLSLocation(location, wh.AccountName)
	if err != nil {
		return nil, "", "", err
	}
	identity, err := azidentity.NewClientSecretCredential(cred["tenant-id"], cred["client-id"], cred["client-secret"], nil)
	if err != nil {
		return nil, "", "", errors.Wrap(errors.CommonStorageUnavailable, err, "failed to build azure identity")
	}
	client, err := azblob.NewClient(fmt.Sprintf("https://%s.blob.core.windows.net/", wh.AccountName), identity, nil)
	if err != nil {
		return nil, "", "", errors.Wrap(errors.CommonStorageUnavailable, err, "failed to build azure client")
	}
	return client, container, blob, nil
}

func (b *Broker) gcsClient(ctx context.Context, cred secrets.Credential, location string) (*storage.Client, string, string, error) {
	bucket, key, err := splitGCSLocation(location)
	if err != nil {
		return nil, "", "", err
	}
	var opts []option.ClientOption
	if saKey := cred["service-account-key"]; saKey != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(saKey)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, "", "", errors.Wrap(errors.CommonStorageUnavailable, err, "failed to build gcs client")
	}
	return client, bucket, key, nil
}

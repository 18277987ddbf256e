package storageaccess

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/secrets"
)

// mintS3 calls STS AssumeRole with an inline session policy that
// downscopes the warehouse's role to the table prefix. The returned
// keys follow the Iceberg REST s3.* config vocabulary.
func (b *Broker) mintS3(ctx context.Context, wh *catalogstore.Warehouse, cred secrets.Credential, tablePrefix string, write bool) (AccessConfig, time.Time, error) {
	roleArn := cred["role-arn"]
	if roleArn == "" {
		return nil, time.Time{}, errors.New(errors.CommonStorageUnavailable, "warehouse credential carries no role-arn for vending")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(wh.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cred["access-key-id"], cred["secret-access-key"], "")),
	)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "failed to build sts client config")
	}
	client := sts.NewFromConfig(awsCfg)

	bucket, key, err := splitS3Location(tablePrefix)
	if err != nil {
		return nil, time.Time{}, err
	}

	policy := scopedS3Policy(bucket, key, write)
	duration := int32(b.credTTL / time.Second)
	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(fmt.Sprintf("icecatalog-%s", wh.ID)),
		Policy:          aws.String(policy),
		DurationSeconds: aws.Int32(duration),
	})
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "sts assume-role failed")
	}

	c := out.Credentials
	cfg := AccessConfig{
		"s3.access-key-id":     aws.ToString(c.AccessKeyId),
		"s3.secret-access-key": aws.ToString(c.SecretAccessKey),
		"s3.session-token":     aws.ToString(c.SessionToken),
		"s3.region":            wh.Region,
	}
	if wh.Endpoint != "" {
		cfg["s3.endpoint"] = wh.Endpoint
	}
	if wh.PathStyle {
		cfg["s3.path-style-access"] = "true"
	}
	return cfg, aws.ToTime(c.Expiration), nil
}

// scopedS3Policy builds the inline session policy: list on the prefix,
// get for readers, plus put/delete/multipart for writers.
func scopedS3Policy(bucket, prefix string, write bool) string {
	actions := `"s3:GetObject"`
	if write {
		actions = `"s3:GetObject", "s3:PutObject", "s3:DeleteObject", "s3:AbortMultipartUpload", "s3:ListMultipartUploadParts"`
	}
	return fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Action": ["s3:ListBucket"],
      "Resource": "arn:aws:s3:::%s",
      "Condition": {"StringLike": {"s3:prefix": "%s/*"}}
    },
    {
      "Effect": "Allow",
      "Action": [%s],
      "Resource": "arn:aws:s3:::%s/%s/*"
    }
  ]
}`, bucket, prefix, actions, bucket, prefix)
}

// splitS3Location parses s3://bucket/key... into its parts.
func splitS3Location(location string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(location, "s3://")
	if trimmed == location {
		return "", "", errors.Newf(errors.CommonInvalidInput, "location %q is not an s3 URI", location)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Newf(errors.CommonInvalidInput, "location %q has no bucket/key split", location)
	}
	return parts[0], strings.TrimSuffix(parts[1], "/"), nil
}

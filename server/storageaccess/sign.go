package storageaccess

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/metrics"
)

const unsignedPayload = "UNSIGNED-PAYLOAD"

var allowedSignMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPut: true,
	http.MethodPost: true, http.MethodDelete: true,
}

// SignRequest is the body of POST /<warehouse-id>/v1/aws/s3/sign: the
// client drafts an S3 request and asks the catalog to sign it with the
// warehouse's credentials.
type SignRequest struct {
	Region   string              `json:"region"`
	Method   string              `json:"method"`
	URI      string              `json:"uri"`
	Headers  map[string][]string `json:"headers"`
	BodyHash string              `json:"body_hash"`
	BodyMD5  string              `json:"body_md5,omitempty"`
}

// SignResponse returns the signed URI and the headers the client must
// attach verbatim.
type SignResponse struct {
	URI     string              `json:"uri"`
	Headers map[string][]string `json:"headers"`
}

// SignS3Request validates, authorizes, and signs one client-drafted S3
// request. The table is resolved by longest-prefix match of the URI
// against tabular locations in the warehouse; GET/HEAD require
// ReadTableData, mutating methods require WriteTableData.
func (b *Broker) SignS3Request(ctx context.Context, warehouseID string, principal authz.Principal, req SignRequest) (*SignResponse, error) {
	resp, err := b.signS3Request(ctx, warehouseID, principal, req)
	outcome := "signed"
	if err != nil {
		outcome = errors.AsError(err).Code.Name()
	}
	metrics.SignRequests.WithLabelValues(outcome).Inc()
	return resp, err
}

func (b *Broker) signS3Request(ctx context.Context, warehouseID string, principal authz.Principal, req SignRequest) (*SignResponse, error) {
	method := strings.ToUpper(req.Method)
	if !allowedSignMethods[method] {
		return nil, errors.Newf(ErrBadSignRequest, "method %q cannot be signed", req.Method)
	}
	parsed, err := url.Parse(req.URI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Newf(ErrBadSignRequest, "uri %q is not an absolute URL", req.URI)
	}

	wh, err := b.store.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	if wh.RemoteSigningDisabled {
		return nil, errors.Newf(ErrSigningDisabled, "warehouse %q has remote signing disabled", warehouseID)
	}

	bucket, key, err := parseS3URL(parsed)
	if err != nil {
		return nil, err
	}

	// Longest-prefix resolution; both "no table owns this key" and
	// "more than one does" conceal as a scope failure so a caller
	// cannot probe the namespace through the signer.
	tabular, err := b.store.ResolveTabularByLocation(ctx, warehouseID, fmt.Sprintf("s3://%s/%s", bucket, key))
	if err != nil {
		return nil, errors.Wrap(ErrSigningScope, err, "uri is not within a signable table prefix")
	}

	action := authz.ActionWriteTableData
	if method == http.MethodGet || method == http.MethodHead {
		action = authz.ActionReadTableData
	}
	decision, err := authz.IsAllowed(ctx, b.authz, authz.Query{
		Principal: principal,
		Action:    action,
		Resource:  authz.Resource{Type: authz.EntityTable, ID: tabular.ID},
	})
	if err != nil {
		return nil, err
	}
	if decision != authz.Allow {
		// Every deny from the signer is Forbidden, including
		// not-found: the sign endpoint never reveals the namespace.
		return nil, errors.Newf(errors.CommonForbidden, "principal may not %s within table %q", action, tabular.ID)
	}

	cred, err := b.warehouseCredential(ctx, wh)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URI, nil)
	if err != nil {
		return nil, errors.Wrap(ErrBadSignRequest, err, "uri does not form a request")
	}
	for name, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	// PyIceberg sends DeleteObjects with a Content-MD5 the signature
	// must cover; inject it when the client declared the digest out of
	// band instead of as a header.
	if httpReq.Header.Get("Content-MD5") == "" && req.BodyMD5 != "" {
		httpReq.Header.Set("Content-MD5", req.BodyMD5)
	}

	payloadHash := req.BodyHash
	if payloadHash == "" {
		payloadHash = unsignedPayload
	}
	httpReq.Header.Set("x-amz-content-sha256", payloadHash)

	region := req.Region
	if region == "" {
		region = wh.Region
	}
	signer := v4.NewSigner()
	awsCreds := aws.Credentials{
		AccessKeyID:     cred["access-key-id"],
		SecretAccessKey: cred["secret-access-key"],
		SessionToken:    cred["session-token"],
	}
	if awsCreds.AccessKeyID == "" || awsCreds.SecretAccessKey == "" {
		return nil, errors.New(errors.CommonStorageUnavailable, "warehouse credential carries no signing key pair")
	}
	if err := signer.SignHTTP(ctx, awsCreds, httpReq, payloadHash, "s3", region, time.Now().UTC()); err != nil {
		return nil, errors.Wrap(errors.CommonStorageUnavailable, err, "request signing failed")
	}

	return &SignResponse{
		URI:     req.URI,
		Headers: httpReq.Header,
	}, nil
}

// parseS3URL extracts (bucket, key) from either virtual-host style
// (bucket.s3.region.amazonaws.com/key) or path style
// (endpoint/bucket/key) URLs.
func parseS3URL(u *url.URL) (bucket, key string, err error) {
	path := strings.TrimPrefix(u.EscapedPath(), "/")
	unescaped, uerr := url.PathUnescape(path)
	if uerr != nil {
		return "", "", errors.Newf(ErrBadSignRequest, "uri path %q is not unescapable", path)
	}

	host := u.Hostname()
	if idx := strings.Index(host, ".s3."); idx > 0 && strings.HasSuffix(host, ".amazonaws.com") {
		return host[:idx], unescaped, nil
	}
	if host == "s3.amazonaws.com" || (strings.HasPrefix(host, "s3.") && strings.HasSuffix(host, ".amazonaws.com")) {
		parts := strings.SplitN(unescaped, "/", 2)
		if len(parts) != 2 {
			return "", "", errors.Newf(ErrBadSignRequest, "path-style uri %q has no key", u.String())
		}
		return parts[0], parts[1], nil
	}
	// Custom endpoint (minio and friends): always path style.
	parts := strings.SplitN(unescaped, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Newf(ErrBadSignRequest, "uri %q does not name a bucket and key", u.String())
	}
	return parts[0], parts[1], nil
}

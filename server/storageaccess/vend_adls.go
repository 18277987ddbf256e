package storageaccess

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/secrets"
)

// mintADLS issues a user-delegation SAS for the table's directory in
// the warehouse's ADLS Gen2 filesystem. Unlike an account-key SAS, the
// signing key here is itself short-lived and obtained via the service
// principal in the secret store, so no storage account key ever exists
// on this server.
func (b *Broker) mintADLS(ctx context.Context, wh *catalogstore.Warehouse, cred secrets.Credential, tablePrefix string, write bool) (AccessConfig, time.Time, error) {
	tenantID, clientID, clientSecret := cred["tenant-id"], cred["client-id"], cred["client-secret"]
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, time.Time{}, errors.New(errors.CommonStorageUnavailable, "warehouse credential is missing the service-principal triple")
	}

	identity, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "failed to build azure identity")
	}

	accountHost := fmt.Sprintf("%s.blob.core.windows.net", wh.AccountName)
	svc, err := service.NewClient(fmt.Sprintf("https://%s/", accountHost), identity, nil)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "failed to build azure service client")
	}

	now := time.Now().UTC().Add(-10 * time.Second)
	expiry := now.Add(b.credTTL)
	info := service.KeyInfo{
		Start:  toAzurePtr(now.Format(sas.TimeFormat)),
		Expiry: toAzurePtr(expiry.Format(sas.TimeFormat)),
	}
	udc, err := svc.GetUserDelegationCredential(ctx, info, nil)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "failed to obtain user delegation key")
	}

	container, dir, err := splitADLSLocation(tablePrefix, wh.AccountName)
	if err != nil {
		return nil, time.Time{}, err
	}

	perms := sas.BlobPermissions{Read: true, List: true}
	if write {
		perms.Add = true
		perms.Create = true
		perms.Write = true
		perms.Delete = true
	}
	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now,
		ExpiryTime:    expiry,
		Permissions:   perms.String(),
		ContainerName: container,
		Directory:     dir,
	}
	query, err := values.SignWithUserDelegation(udc)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.CommonStorageUnavailable, err, "failed to sign delegation sas")
	}

	sasKey := fmt.Sprintf("adls.sas-token.%s.dfs.core.windows.net", wh.AccountName)
	return AccessConfig{sasKey: query.Encode()}, expiry, nil
}

func toAzurePtr(s string) *string { return &s }

// splitADLSLocation parses abfss://container@account.dfs.core.windows.net/dir...
func splitADLSLocation(location, accountName string) (container, dir string, err error) {
	trimmed := strings.TrimPrefix(location, "abfss://")
	if trimmed == location {
		trimmed = strings.TrimPrefix(location, "abfs://")
		if trimmed == location {
			return "", "", errors.Newf(errors.CommonInvalidInput, "location %q is not an adls URI", location)
		}
	}
	at := strings.IndexByte(trimmed, '@')
	if at < 1 {
		return "", "", errors.Newf(errors.CommonInvalidInput, "location %q has no container@account part", location)
	}
	container = trimmed[:at]
	rest := trimmed[at+1:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return container, "", nil
	}
	host := rest[:slash]
	if !strings.HasPrefix(host, accountName+".") {
		return "", "", errors.Newf(errors.CommonInvalidInput, "location %q does not belong to account %q", location, accountName)
	}
	return container, strings.Trim(rest[slash+1:], "/"), nil
}

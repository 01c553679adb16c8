package sse

import (
	"fmt"
	"strings"
)

// DefaultKMSAccount is reported for keys qualified by a local store.
const DefaultKMSAccount = "000000000000"

// DefaultKMSAlias is the managed key used when SSE-KMS names no key.
const DefaultKMSAlias = "alias/aws/s3"

// QualifyKeyID expands a short key id or alias into a full ARN. Values that
// already are ARNs are returned unchanged.
func QualifyKeyID(region, account, keyID string) string {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = DefaultKMSAlias
	}
	if strings.HasPrefix(keyID, "arn:") {
		return keyID
	}
	if strings.HasPrefix(keyID, "alias/") {
		return fmt.Sprintf("arn:aws:kms:%s:%s:%s", region, account, keyID)
	}
	return fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", region, account, keyID)
}

// ShortKeyID reduces an ARN to its resource part: a bare key id for
// key/<id> resources, alias/<name> for aliases. MinIO reports its static
// key as arn:aws:kms:<name>, which reduces to <name>.
func ShortKeyID(keyID string) string {
	keyID = strings.TrimSpace(keyID)
	if !strings.HasPrefix(keyID, "arn:") {
		return keyID
	}

	// arn:partition:kms:region:account:resource
	parts := strings.SplitN(keyID, ":", 6)
	if len(parts) != 6 {
		return parts[len(parts)-1]
	}

	resource := parts[5]
	if id, ok := strings.CutPrefix(resource, "key/"); ok {
		return id
	}
	return resource
}

// KeyIDMatches reports whether a reported key identifier satisfies the
// configured one. An empty expectation accepts any key. Two fully qualified
// ARNs must match exactly, region and account included. Otherwise the
// comparison is on the short form, so a short id or MinIO's arn:aws:kms:<name>
// matches the fully qualified ARN of the same key.
func KeyIDMatches(expected, actual string) bool {
	expected = strings.TrimSpace(expected)
	actual = strings.TrimSpace(actual)

	switch {
	case expected == "":
		return true
	case expected == actual:
		return true
	case qualifiedARN(expected) && qualifiedARN(actual):
		return false
	}
	return ShortKeyID(expected) == ShortKeyID(actual)
}

// qualifiedARN reports whether keyID names partition, region, account and
// resource.
func qualifiedARN(keyID string) bool {
	return strings.HasPrefix(keyID, "arn:") && strings.Count(keyID, ":") >= 5
}

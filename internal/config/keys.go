package config

// Property names understood by the harness, the adapter and the metadata
// table collaborator. Names follow the S3A property layout so that existing
// test property files can be reused unchanged.
const (
	KeyEncryptionAlgorithm = "fs.s3a.server-side-encryption-algorithm"
	KeyEncryptionKey       = "fs.s3a.server-side-encryption.key"

	KeyEndpoint     = "fs.s3a.endpoint"
	KeyAccessKey    = "fs.s3a.access.key"
	KeySecretKey    = "fs.s3a.secret.key"
	KeyRegion       = "fs.s3a.endpoint.region"
	KeySSLEnabled   = "fs.s3a.connection.ssl.enabled"
	KeyDisableCache = "fs.s3a.impl.disable.cache"

	KeyMetadataStoreImpl = "fs.s3a.metadatastore.impl"
	KeyTableName         = "fs.s3a.s3guard.ddb.table"
	KeyTestTableName     = "fs.s3a.s3guard.ddb.test.table"
	KeyTableRegion       = "fs.s3a.s3guard.ddb.region"
	KeyBackgroundSleep   = "fs.s3a.s3guard.ddb.background.sleep"

	// PrefixTableTag prefixes every tag applied to the metadata table:
	// fs.s3a.s3guard.ddb.table.tag.<tag-key> = <tag-value>.
	PrefixTableTag = "fs.s3a.s3guard.ddb.table.tag."

	KeyTestBucket             = "test.fs.s3a.name"
	KeyEncryptionTestsEnabled = "test.fs.s3a.encryption.enabled"
	KeyBoundarySize           = "test.fs.s3a.encryption.boundary-size"

	// basePrefix is shared by every adapter option; per-bucket overrides
	// live under fs.s3a.bucket.<bucket>.<option-without-base-prefix>.
	basePrefix   = "fs.s3a."
	bucketPrefix = "fs.s3a.bucket."
)

// Metadata store implementations selectable through KeyMetadataStoreImpl.
const (
	MetadataStoreDynamo = "dynamodb"
	MetadataStoreLocal  = "local"
	MetadataStoreNull   = "null"
)

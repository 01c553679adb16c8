package objstore

import "s3verify/internal/sse"

type Config struct {
	DataDir string
	Region  string

	// KMSAccount is the account id used when qualifying short KMS key ids
	// into ARNs.
	KMSAccount string

	// AllowInsecureCustomerKeys accepts SSE-C headers over plain HTTP. S3
	// rejects them; this only exists for local debugging.
	AllowInsecureCustomerKeys bool

	// Credentials, when set, require every request to carry a SigV4
	// signature made with them.
	Credentials *Credentials

	Engine StorageEngine
}

type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) { c.DataDir = dir }
}

func WithRegion(region string) Option {
	return func(c *Config) { c.Region = region }
}

func WithKMSAccount(account string) Option {
	return func(c *Config) { c.KMSAccount = account }
}

func WithEngine(engine StorageEngine) Option {
	return func(c *Config) { c.Engine = engine }
}

func WithInsecureCustomerKeys() Option {
	return func(c *Config) { c.AllowInsecureCustomerKeys = true }
}

func WithCredentials(accessKeyID, secretAccessKey string) Option {
	return func(c *Config) {
		c.Credentials = &Credentials{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}
	}
}

func newConfig(opts ...Option) Config {
	cfg := Config{
		Region:     "us-east-1",
		KMSAccount: sse.DefaultKMSAccount,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Engine == nil && cfg.DataDir != "" {
		cfg.Engine = NewLocalFileStorage(cfg.DataDir)
	}
	return cfg
}

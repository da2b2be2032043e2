package cdn

// Config describes the remote distribution target. With Enabled false the
// sync agent is never constructed and assets simply keep a NULL CDN URL.
type Config struct {
	Enabled       bool   `yaml:"enabled" env:"CDN_ENABLED" env-default:"false"`
	Region        string `yaml:"region" env:"CDN_REGION" env-default:"us-east-1"`
	Bucket        string `yaml:"bucket" env:"CDN_BUCKET"`
	AccessKey     string `yaml:"access_key" env:"CDN_ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key" env:"CDN_SECRET_KEY"`
	Endpoint      string `yaml:"endpoint" env:"CDN_ENDPOINT"`
	PublicURLBase string `yaml:"public_url_base" env:"CDN_PUBLIC_URL_BASE"`

	RetryIntervalMinutes int `yaml:"retry_interval_minutes" env:"CDN_RETRY_INTERVAL_MINUTES" env-default:"15"`
}

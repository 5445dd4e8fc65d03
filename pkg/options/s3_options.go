package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options locates the firmware image bucket.
type S3Options struct {
	Endpoint           string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID        string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey    string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL             bool   `json:"use-ssl" mapstructure:"use-ssl"`
	InsecureSkipVerify bool   `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
	BucketName         string `json:"bucket-name" mapstructure:"bucket-name"`
	Region             string `json:"region" mapstructure:"region"`
	// CacheDir keeps downloaded images until the board took them.
	CacheDir string `json:"cache-dir" mapstructure:"cache-dir"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL:     true,
		BucketName: "meter-firmware",
		Region:     "us-east-1",
		CacheDir:   "/var/lib/cabmeter/firmware",
	}
}

// Enabled reports whether a firmware bucket was configured.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *S3Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}
	if o.BucketName == "" {
		errs = append(errs, fmt.Errorf("--s3.bucket-name must not be empty"))
	}
	if o.CacheDir == "" {
		errs = append(errs, fmt.Errorf("--s3.cache-dir must not be empty"))
	}
	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 endpoint of the firmware bucket; firmware updates are disabled when empty.")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.BoolVar(&o.InsecureSkipVerify, "s3.insecure-skip-verify", o.InsecureSkipVerify, "Skip verification of the S3 certificate.")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for firmware storage")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.StringVar(&o.CacheDir, "s3.cache-dir", o.CacheDir, "Local directory for downloaded firmware images.")
}

package config

import "time"

const (
	FlagConfigPath         = "config-path"
	FlagConfigType         = "config-type"
	FlagConfigAwsRegion    = "aws-region"
	FlagConfigAwsSecretKey = "aws-secret-key"
	FlagConfigPrivateKey   = "private-key"
	FlagConfigDbPass       = "db-pass"

	DBDialectMysql   = "mysql"
	DBDialectSqlite3 = "sqlite3"

	KeyTypeLocalPrivateKey = "local_private_key"
	KeyTypeAWSPrivateKey   = "aws_private_key"

	AWSConfig   = "aws"
	LocalConfig = "local"

	ConfigType     = "CONFIG_TYPE"
	ConfigFilePath = "CONFIG_FILE_PATH"
	ConfigDBPass   = "CONFIG_DB_PASS"

	DefaultConcurrency    = 16
	DefaultRetryAttempts  = 5
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second
	DefaultRPCTimeout     = 20 * time.Second
	DefaultConfirmTimeout = 90 * time.Second
)

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fossil-labs/proof-hub/cache"
)

type Config struct {
	LogConfig          LogConfig          `json:"log_config"`
	DBConfig           DBConfig           `json:"db_config"`
	EthConfig          EthConfig          `json:"eth_config"`
	StarknetConfig     StarknetConfig     `json:"starknet_config"`
	OrchestratorConfig OrchestratorConfig `json:"orchestrator_config"`
	ServerConfig       ServerConfig       `json:"server_config"`
	MetricsConfig      MetricsConfig      `json:"metrics_config"`
	CacheConfig        CacheConfig        `json:"cache_config"`
}

type EthConfig struct {
	RPCAddrs []string `json:"rpc_addrs"` // RPCAddrs is a list of Ethereum execution layer RPC addresses
}

func (cfg *EthConfig) Validate() {
	if len(cfg.RPCAddrs) == 0 {
		panic("eth rpc address is not provided")
	}
}

type StarknetConfig struct {
	RPCAddrs           []string `json:"rpc_addrs"`             // RPCAddrs is a list of Starknet RPC addresses
	FactRegistryAddr   string   `json:"fact_registry_addr"`    // FactRegistryAddr is the fact registry contract address on Starknet
	L1HeadersStoreAddr string   `json:"l1_headers_store_addr"` // L1HeadersStoreAddr is the L1 headers store contract address on Starknet
	AccountAddr        string   `json:"account_addr"`          // AccountAddr is the submitter account contract address
	SignerEndpoint     string   `json:"signer_endpoint"`       // SignerEndpoint is the address of the signing sidecar holding the account key
}

func (cfg *StarknetConfig) Validate() {
	if len(cfg.RPCAddrs) == 0 {
		panic("starknet rpc address is not provided")
	}
	if cfg.FactRegistryAddr == "" || cfg.L1HeadersStoreAddr == "" {
		panic("starknet contract addresses are not provided")
	}
}

type OrchestratorConfig struct {
	Concurrency       int64  `json:"concurrency"`         // Concurrency bounds the number of jobs resolved in parallel
	RetryAttempts     int    `json:"retry_attempts"`      // RetryAttempts is the per-step budget for transient failures
	BackoffInitialMs  uint64 `json:"backoff_initial_ms"`  // BackoffInitialMs is the first retry delay
	BackoffMaxMs      uint64 `json:"backoff_max_ms"`      // BackoffMaxMs caps the exponential retry delay
	RPCTimeoutSec     uint64 `json:"rpc_timeout_sec"`     // RPCTimeoutSec bounds every single chain read/write
	ConfirmTimeoutSec uint64 `json:"confirm_timeout_sec"` // ConfirmTimeoutSec bounds waiting for a transaction receipt
}

func (cfg *OrchestratorConfig) GetConcurrency() int64 {
	if cfg.Concurrency > 0 {
		return cfg.Concurrency
	}
	return DefaultConcurrency
}

func (cfg *OrchestratorConfig) GetRetryAttempts() int {
	if cfg.RetryAttempts > 0 {
		return cfg.RetryAttempts
	}
	return DefaultRetryAttempts
}

func (cfg *OrchestratorConfig) GetBackoffInitial() time.Duration {
	if cfg.BackoffInitialMs > 0 {
		return time.Duration(cfg.BackoffInitialMs) * time.Millisecond
	}
	return DefaultBackoffInitial
}

func (cfg *OrchestratorConfig) GetBackoffMax() time.Duration {
	if cfg.BackoffMaxMs > 0 {
		return time.Duration(cfg.BackoffMaxMs) * time.Millisecond
	}
	return DefaultBackoffMax
}

func (cfg *OrchestratorConfig) GetRPCTimeout() time.Duration {
	if cfg.RPCTimeoutSec > 0 {
		return time.Duration(cfg.RPCTimeoutSec) * time.Second
	}
	return DefaultRPCTimeout
}

func (cfg *OrchestratorConfig) GetConfirmTimeout() time.Duration {
	if cfg.ConfirmTimeoutSec > 0 {
		return time.Duration(cfg.ConfirmTimeoutSec) * time.Second
	}
	return DefaultConfirmTimeout
}

type ServerConfig struct {
	ListenAddr string `json:"listen_addr"`
}

type MetricsConfig struct {
	Enable  bool   `json:"enable"`
	Address string `json:"address"`
}

type CacheConfig struct {
	CacheSize uint64 `json:"cache_size"`
}

func (c *CacheConfig) GetCacheSize() uint64 {
	if c.CacheSize != 0 {
		return c.CacheSize
	}
	return cache.DefaultCacheSize
}

type DBConfig struct {
	Dialect       string `json:"dialect"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Url           string `json:"url"`
	MaxIdleConns  int    `json:"max_idle_conns"`
	MaxOpenConns  int    `json:"max_open_conns"`
	KeyType       string `json:"key_type"`
	AWSRegion     string `json:"aws_region"`
	AWSSecretName string `json:"aws_secret_name"`
}

func (cfg *DBConfig) Validate() {
	if cfg.Dialect != DBDialectMysql && cfg.Dialect != DBDialectSqlite3 {
		panic(fmt.Sprintf("only %s and %s supported", DBDialectMysql, DBDialectSqlite3))
	}
	if cfg.Dialect == DBDialectMysql && (cfg.Username == "" || cfg.Url == "") {
		panic("db config is not correct, missing username and/or url")
	}
	if cfg.MaxIdleConns == 0 || cfg.MaxOpenConns == 0 {
		panic("db connections is not correct")
	}
}

type LogConfig struct {
	Level                        string `json:"level"`
	Filename                     string `json:"filename"`
	MaxFileSizeInMB              int    `json:"max_file_size_in_mb"`
	MaxBackupsOfLogFiles         int    `json:"max_backups_of_log_files"`
	MaxAgeToRetainLogFilesInDays int    `json:"max_age_to_retain_log_files_in_days"`
	UseConsoleLogger             bool   `json:"use_console_logger"`
	UseFileLogger                bool   `json:"use_file_logger"`
	Compress                     bool   `json:"compress"`
}

func (cfg *LogConfig) Validate() {
	if cfg.UseFileLogger {
		if cfg.Filename == "" {
			panic("filename should not be empty if use file logger")
		}
		if cfg.MaxFileSizeInMB <= 0 {
			panic("max_file_size_in_mb should be larger than 0 if use file logger")
		}
		if cfg.MaxBackupsOfLogFiles <= 0 {
			panic("max_backups_off_log_files should be larger than 0 if use file logger")
		}
	}
}

func (c *Config) Validate() {
	c.LogConfig.Validate()
	c.DBConfig.Validate()
	c.EthConfig.Validate()
	c.StarknetConfig.Validate()
}

func ParseConfigFromJson(content string) *Config {
	var config Config
	if err := json.Unmarshal([]byte(content), &config); err != nil {
		panic(err)
	}
	return &config
}

func ParseConfigFromFile(filePath string) *Config {
	bz, err := os.ReadFile(filePath)
	if err != nil {
		panic(err)
	}

	var config Config
	if err := json.Unmarshal(bz, &config); err != nil {
		panic(err)
	}
	return &config
}

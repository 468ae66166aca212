package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fossil-labs/proof-hub/api"
	"github.com/fossil-labs/proof-hub/cache"
	"github.com/fossil-labs/proof-hub/config"
	proofdb "github.com/fossil-labs/proof-hub/db"
	"github.com/fossil-labs/proof-hub/external"
	"github.com/fossil-labs/proof-hub/external/starknet"
	"github.com/fossil-labs/proof-hub/logging"
	"github.com/fossil-labs/proof-hub/metrics"
	"github.com/fossil-labs/proof-hub/orchestrator"
	"github.com/fossil-labs/proof-hub/prover"
	"github.com/fossil-labs/proof-hub/registry"
	"github.com/fossil-labs/proof-hub/relayer"
	"github.com/fossil-labs/proof-hub/service"
)

func initFlags() {
	flag.String(config.FlagConfigPath, "", "config file path")
	flag.String(config.FlagConfigType, "", "config type, local or aws")
	flag.String(config.FlagConfigAwsRegion, "", "aws region")
	flag.String(config.FlagConfigAwsSecretKey, "", "aws secret key")
	flag.String(config.FlagConfigDbPass, "", "proof-hub db password")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		panic(err)
	}
}

func printUsage() {
	fmt.Print("usage: ./proof-hub --config-type local --config-path configFile\n")
	fmt.Print("usage: ./proof-hub --config-type aws --aws-region awsRegion --aws-secret-key awsSecretKey\n")
}

func main() {
	var (
		cfg                        *config.Config
		configType, configFilePath string
	)
	initFlags()
	configType = viper.GetString(config.FlagConfigType)
	if configType == "" {
		configType = os.Getenv(config.ConfigType)
	}
	if configType != config.AWSConfig && configType != config.LocalConfig {
		printUsage()
		return
	}
	if configType == config.AWSConfig {
		awsSecretKey := viper.GetString(config.FlagConfigAwsSecretKey)
		if awsSecretKey == "" {
			printUsage()
			return
		}
		awsRegion := viper.GetString(config.FlagConfigAwsRegion)
		if awsRegion == "" {
			printUsage()
			return
		}
		configContent, err := config.GetSecret(awsSecretKey, awsRegion)
		if err != nil {
			fmt.Printf("get aws config error, err=%s", err.Error())
			return
		}
		cfg = config.ParseConfigFromJson(configContent)
	} else {
		configFilePath = viper.GetString(config.FlagConfigPath)
		if configFilePath == "" {
			configFilePath = os.Getenv(config.ConfigFilePath)
			if configFilePath == "" {
				printUsage()
				return
			}
		}
		cfg = config.ParseConfigFromFile(configFilePath)
	}
	if cfg == nil {
		panic("failed to get configuration")
	}
	cfg.Validate()
	logging.InitLogger(&cfg.LogConfig)

	username := cfg.DBConfig.Username
	password := viper.GetString(config.FlagConfigDbPass)
	if password == "" {
		password = os.Getenv(config.ConfigDBPass)
		if password == "" {
			password = getDBPass(&cfg.DBConfig)
		}
	}
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	var database *gorm.DB
	var err error
	var dialector gorm.Dialector

	if cfg.DBConfig.Dialect == config.DBDialectMysql {
		url := cfg.DBConfig.Url
		dbPath := fmt.Sprintf("%s:%s@%s", username, password, url)
		dialector = mysql.Open(dbPath)
	} else if cfg.DBConfig.Dialect == config.DBDialectSqlite3 {
		dialector = sqlite.Open(cfg.DBConfig.Url)
	} else {
		panic(fmt.Sprintf("unexpected DB dialect %s", cfg.DBConfig.Dialect))
	}
	database, err = gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		panic(fmt.Sprintf("open db error, err=%s", err.Error()))
	}
	dbConfig, err := database.DB()
	if err != nil {
		panic(err)
	}
	dbConfig.SetMaxIdleConns(cfg.DBConfig.MaxIdleConns)
	dbConfig.SetMaxOpenConns(cfg.DBConfig.MaxOpenConns)

	proofdb.InitTables(database)
	dao := proofdb.NewProofSvcDB(database)

	valueCache, err := cache.NewLocalCache(cfg.CacheConfig.GetCacheSize())
	if err != nil {
		panic(err)
	}

	ethClient := external.NewClient(&cfg.EthConfig)
	signer := starknet.NewSidecarSigner(cfg.StarknetConfig.SignerEndpoint)
	snClient, err := starknet.NewClient(cfg.StarknetConfig.RPCAddrs[0], cfg.StarknetConfig.AccountAddr, signer)
	if err != nil {
		panic(err)
	}

	headerRelayer := relayer.NewHeaderRelayer(ethClient, snClient, cfg.StarknetConfig.L1HeadersStoreAddr)
	producer := prover.NewEthProducer(ethClient)
	factRegistry := registry.NewClient(snClient, cfg.StarknetConfig.FactRegistryAddr)

	orch := orchestrator.NewOrchestrator(dao, headerRelayer, producer, factRegistry, valueCache, &cfg.OrchestratorConfig)
	proofSvc := service.NewProofService(orch)

	if cfg.MetricsConfig.Enable {
		metrics.NewMetrics(cfg.MetricsConfig.Address).Start()
	}
	apiServer := api.NewServer(proofSvc, cfg.ServerConfig.ListenAddr)
	apiServer.Start()
	logging.Logger.Infof("proof-hub started, listening on %s", cfg.ServerConfig.ListenAddr)
	select {}
}

func getDBPass(cfg *config.DBConfig) string {
	if cfg.KeyType == config.KeyTypeAWSPrivateKey {
		result, err := config.GetSecret(cfg.AWSSecretName, cfg.AWSRegion)
		if err != nil {
			panic(err)
		}
		type DBPass struct {
			DbPass string `json:"db_pass"`
		}
		var dbPassword DBPass
		err = json.Unmarshal([]byte(result), &dbPassword)
		if err != nil {
			panic(err)
		}
		return dbPassword.DbPass
	}
	return cfg.Password
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Anya-org/dlcd/internal/core/application"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/internal/infrastructure/chain/nbxplorer"
	"github.com/Anya-org/dlcd/internal/infrastructure/db"
	badgerdb "github.com/Anya-org/dlcd/internal/infrastructure/db/badger"
	"github.com/Anya-org/dlcd/internal/infrastructure/keystore"
	"github.com/Anya-org/dlcd/internal/infrastructure/keystore/cypher"
	inmemorylivestore "github.com/Anya-org/dlcd/internal/infrastructure/live-store/inmemory"
	redislivestore "github.com/Anya-org/dlcd/internal/infrastructure/live-store/redis"
	httporacle "github.com/Anya-org/dlcd/internal/infrastructure/oracle/http"
	thresholdoracle "github.com/Anya-org/dlcd/internal/infrastructure/oracle/threshold"
	txbuilder "github.com/Anya-org/dlcd/internal/infrastructure/tx-builder/dlc"
	dlclib "github.com/Anya-org/dlcd/pkg/dlc-lib"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	supportedEventDbs = supportedType{
		"badger": {},
	}
	supportedDbs = supportedType{
		"badger": {},
		"sqlite": {},
	}
	supportedLiveStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
)

type Config struct {
	Datadir  string
	Port     uint32
	LogLevel int
	Network  string

	DbType            string
	EventDbType       string
	DbDir             string
	EventDbDir        string
	LiveStoreType     string
	RedisUrl          string
	RedisNumOfRetries int
	RedisLockTTL      time.Duration

	NbxplorerUrl     string
	KeystorePassword string

	Oracles         map[string]string
	OracleThreshold uint32
	OracleCacheSize int
	MaxRetries      uint64

	ContractTimeout  uint32
	MaxContractValue uint64
	MinConfirmations uint32
	PollInterval     time.Duration
	MaxPollInterval  time.Duration

	repo     ports.RepoManager
	svc      application.Service
	wallet   ports.WalletService
	builder  ports.TxBuilder
	chain    ports.BlockchainService
	oracles  ports.OracleClient
	resolver ports.AttestationResolver
	locker   ports.ContractLocker
	network  *dlclib.Network
}

func (c *Config) String() string {
	clone := *c
	if clone.KeystorePassword != "" {
		clone.KeystorePassword = "••••••"
	}
	if clone.RedisUrl != "" {
		clone.RedisUrl = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir           = "DATADIR"
	Port              = "PORT"
	LogLevel          = "LOG_LEVEL"
	Network           = "NETWORK"
	EventDbType       = "EVENT_DB_TYPE"
	DbType            = "DB_TYPE"
	LiveStoreType     = "LIVE_STORE_TYPE"
	RedisUrl          = "REDIS_URL"
	RedisNumOfRetries = "REDIS_NUM_OF_RETRIES"
	RedisLockTTL      = "REDIS_LOCK_TTL" // seconds
	NbxplorerUrl      = "NBXPLORER_URL"
	KeystorePassword  = "KEYSTORE_PASSWORD"
	Oracles           = "ORACLES"
	OracleThreshold   = "ORACLE_THRESHOLD"
	OracleCacheSize   = "ORACLE_CACHE_SIZE"
	MaxRetries        = "MAX_RETRIES"
	ContractTimeout   = "CONTRACT_TIMEOUT"
	MaxContractValue  = "MAX_CONTRACT_VALUE"
	MinConfirmations  = "MIN_CONFIRMATIONS"
	PollInterval      = "POLL_INTERVAL"     // seconds
	MaxPollInterval   = "MAX_POLL_INTERVAL" // seconds

	defaultDatadir           = btcutil.AppDataDir("dlcd", false)
	DefaultPort              = 7080
	defaultLogLevel          = 4
	defaultNetwork           = "regtest"
	defaultDbType            = "badger"
	defaultEventDbType       = "badger"
	defaultLiveStoreType     = "inmemory"
	defaultRedisNumOfRetries = 10
	defaultRedisLockTTL      = 30
	defaultNbxplorerUrl      = "http://localhost:32838"
	defaultOracleCacheSize   = 1024
	defaultMaxRetries        = 5
	defaultContractTimeout   = 144
	defaultMinConfirmations  = 1
	defaultPollInterval      = 5
	defaultMaxPollInterval   = 300
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("DLCD")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(Port, DefaultPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(EventDbType, defaultEventDbType)
	viper.SetDefault(LiveStoreType, defaultLiveStoreType)
	viper.SetDefault(RedisNumOfRetries, defaultRedisNumOfRetries)
	viper.SetDefault(RedisLockTTL, defaultRedisLockTTL)
	viper.SetDefault(NbxplorerUrl, defaultNbxplorerUrl)
	viper.SetDefault(OracleCacheSize, defaultOracleCacheSize)
	viper.SetDefault(MaxRetries, defaultMaxRetries)
	viper.SetDefault(ContractTimeout, defaultContractTimeout)
	viper.SetDefault(MinConfirmations, defaultMinConfirmations)
	viper.SetDefault(PollInterval, defaultPollInterval)
	viper.SetDefault(MaxPollInterval, defaultMaxPollInterval)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(viper.GetString(Datadir), "db")

	var redisUrl string
	if viper.GetString(LiveStoreType) == "redis" {
		redisUrl = viper.GetString(RedisUrl)
		if redisUrl == "" {
			return nil, fmt.Errorf("live store type set to 'redis' but redis url is missing")
		}
	}

	oracles, err := parseOracles(viper.GetString(Oracles))
	if err != nil {
		return nil, err
	}

	return &Config{
		Datadir:           viper.GetString(Datadir),
		Port:              viper.GetUint32(Port),
		LogLevel:          viper.GetInt(LogLevel),
		Network:           viper.GetString(Network),
		DbType:            viper.GetString(DbType),
		EventDbType:       viper.GetString(EventDbType),
		DbDir:             dbPath,
		EventDbDir:        dbPath,
		LiveStoreType:     viper.GetString(LiveStoreType),
		RedisUrl:          redisUrl,
		RedisNumOfRetries: viper.GetInt(RedisNumOfRetries),
		RedisLockTTL:      time.Duration(viper.GetInt64(RedisLockTTL)) * time.Second,
		NbxplorerUrl:      viper.GetString(NbxplorerUrl),
		KeystorePassword:  viper.GetString(KeystorePassword),
		Oracles:           oracles,
		OracleThreshold:   viper.GetUint32(OracleThreshold),
		OracleCacheSize:   viper.GetInt(OracleCacheSize),
		MaxRetries:        viper.GetUint64(MaxRetries),
		ContractTimeout:   viper.GetUint32(ContractTimeout),
		MaxContractValue:  viper.GetUint64(MaxContractValue),
		MinConfirmations:  viper.GetUint32(MinConfirmations),
		PollInterval:      time.Duration(viper.GetInt64(PollInterval)) * time.Second,
		MaxPollInterval:   time.Duration(viper.GetInt64(MaxPollInterval)) * time.Second,
	}, nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// parseOracles parses a comma separated list of name=url entries.
func parseOracles(value string) (map[string]string, error) {
	oracles := make(map[string]string)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if len(entry) <= 0 {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		if !ok || len(name) <= 0 || len(url) <= 0 {
			return nil, fmt.Errorf("invalid oracle %s, must be in the form name=url", entry)
		}
		if _, ok := oracles[name]; ok {
			return nil, fmt.Errorf("duplicated oracle %s", name)
		}
		oracles[name] = strings.TrimSuffix(url, "/")
	}
	return oracles, nil
}

func (c *Config) Validate() error {
	if !supportedEventDbs.supports(c.EventDbType) {
		return fmt.Errorf(
			"event db type not supported, please select one of: %s",
			supportedEventDbs,
		)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if len(c.LiveStoreType) > 0 && !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf(
			"live store type not supported, please select one of: %s",
			supportedLiveStores,
		)
	}
	network, err := dlclib.NetworkFromString(c.Network)
	if err != nil {
		return err
	}
	c.network = &network

	if len(c.Oracles) <= 0 {
		return fmt.Errorf("missing oracles, at least one must be configured")
	}
	if int(c.OracleThreshold) > len(c.Oracles) {
		return fmt.Errorf(
			"invalid oracle threshold %d, must be at most %d", c.OracleThreshold, len(c.Oracles),
		)
	}
	if c.OracleThreshold == 0 && len(c.Oracles) > 1 {
		return fmt.Errorf("oracle threshold is required with more than one oracle")
	}
	if c.ContractTimeout <= 0 {
		return fmt.Errorf("invalid contract timeout, must be greater than 0")
	}
	if len(c.KeystorePassword) <= 0 {
		return fmt.Errorf("missing keystore password")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.walletService(); err != nil {
		return err
	}
	if err := c.txBuilderService(); err != nil {
		return err
	}
	if err := c.chainService(); err != nil {
		return err
	}
	if err := c.oracleService(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) WalletService() ports.WalletService {
	return c.wallet
}

func (c *Config) repoManager() error {
	var eventStoreConfig []interface{}
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.EventDbType {
	case "badger":
		eventStoreConfig = []interface{}{c.EventDbDir, logger}
	default:
		return fmt.Errorf("unknown event db type")
	}

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		EventStoreType:   c.EventDbType,
		DataStoreType:    c.DbType,
		EventStoreConfig: eventStoreConfig,
		DataStoreConfig:  dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) walletService() error {
	seedRepo, err := badgerdb.NewSeedRepository(c.Datadir, log.New())
	if err != nil {
		return fmt.Errorf("failed to open keystore: %s", err)
	}

	svc, err := keystore.New(keystore.WalletOptions{
		SeedRepository: seedRepo,
		Cypher:         cypher.New(),
		Network:        c.network.Params,
	})
	if err != nil {
		return err
	}

	c.wallet = svc
	return nil
}

func (c *Config) txBuilderService() error {
	c.builder = txbuilder.NewTxBuilder()
	return nil
}

func (c *Config) chainService() error {
	svc, err := nbxplorer.New(c.NbxplorerUrl)
	if err != nil {
		return err
	}
	c.chain = svc
	return nil
}

func (c *Config) oracleService() error {
	client, err := httporacle.NewClient(httporacle.Config{
		Endpoints:  c.Oracles,
		CacheSize:  c.OracleCacheSize,
		MaxRetries: c.MaxRetries,
	})
	if err != nil {
		return err
	}

	c.oracles = client
	c.resolver = thresholdoracle.NewResolver(client)
	return nil
}

func (c *Config) liveStoreService() error {
	var locker ports.ContractLocker
	var err error
	switch c.LiveStoreType {
	case "inmemory":
		locker = inmemorylivestore.NewContractLocker()
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		locker = redislivestore.NewContractLocker(
			rdb, c.RedisNumOfRetries, c.RedisLockTTL,
		)
	default:
		err = fmt.Errorf("unknown liveStore type")
	}

	if err != nil {
		return err
	}

	c.locker = locker
	return nil
}

func (c *Config) appService() error {
	oracles := make([]string, 0, len(c.Oracles))
	for name := range c.Oracles {
		oracles = append(oracles, name)
	}
	sort.Strings(oracles)

	svc, err := application.NewService(
		application.Config{
			Network:          c.network.Name,
			Oracles:          oracles,
			OracleThreshold:  c.OracleThreshold,
			ContractTimeout:  c.ContractTimeout,
			MaxContractValue: c.MaxContractValue,
			MinConfirmations: c.MinConfirmations,
			PollInterval:     c.PollInterval,
			MaxPollInterval:  c.MaxPollInterval,
		},
		c.wallet, c.repo, c.builder, c.chain, c.oracles, c.resolver, c.locker,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	sort.Strings(types)
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}

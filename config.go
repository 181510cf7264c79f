package cardano

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ChainSourceOgmios     = "ogmios"
	ChainSourceBlockfrost = "blockfrost"

	SubmitViaOgmios = "ogmios"
	SubmitViaNode   = "node"
)

// Config is everything a binary needs to reach the chain. It is passed
// explicitly; nothing in the library reads the environment.
type Config struct {
	Network             Network       `mapstructure:"network" json:"network"`
	ChainSource         string        `mapstructure:"chainsource" json:"chainSource"`
	SubmitVia           string        `mapstructure:"submitvia" json:"submitVia"`
	OgmiosEndpoint      string        `mapstructure:"ogmiosendpoint" json:"ogmiosEndpoint"`
	OgmiosVersion       string        `mapstructure:"ogmiosversion" json:"ogmiosVersion"`
	NodeSocket          string        `mapstructure:"nodesocket" json:"nodeSocket"`
	NodeSocketNetwork   string        `mapstructure:"nodesocketnetwork" json:"nodeSocketNetwork"`
	NodeEra             string        `mapstructure:"nodeera" json:"nodeEra"`
	BlockfrostUrl       string        `mapstructure:"blockfrosturl" json:"blockfrostUrl"`
	BlockfrostProjectId string        `mapstructure:"blockfrostprojectid" json:"-"`
	Timeout             time.Duration `mapstructure:"timeout" json:"timeout"`
	LogLevel            string        `mapstructure:"loglevel" json:"logLevel"`
	DatabasePath        string        `mapstructure:"databasepath" json:"databasePath"`
	RpcHostPort         string        `mapstructure:"rpchostport" json:"rpcHostPort"`
}

var defaultConfig = &Config{
	Network:           NetworkPreProd,
	ChainSource:       ChainSourceOgmios,
	SubmitVia:         SubmitViaOgmios,
	OgmiosEndpoint:    "ws://localhost:1337",
	OgmiosVersion:     "v6",
	NodeSocket:        "/opt/cardano/ipc/socket",
	NodeSocketNetwork: "unix",
	Timeout:           time.Second * 30,
	LogLevel:          "info",
	RpcHostPort:       "localhost:3002",
}

func (c *Config) setDefaults() {
	if c.Network == "" {
		c.Network = defaultConfig.Network
	}
	if c.ChainSource == "" {
		c.ChainSource = defaultConfig.ChainSource
	}
	if c.SubmitVia == "" {
		c.SubmitVia = defaultConfig.SubmitVia
	}
	if c.OgmiosEndpoint == "" {
		c.OgmiosEndpoint = defaultConfig.OgmiosEndpoint
	}
	if c.OgmiosVersion == "" {
		c.OgmiosVersion = defaultConfig.OgmiosVersion
	}
	if c.NodeSocket == "" {
		c.NodeSocket = defaultConfig.NodeSocket
	}
	if c.NodeSocketNetwork == "" {
		c.NodeSocketNetwork = defaultConfig.NodeSocketNetwork
	}
	if c.BlockfrostUrl == "" {
		if params, err := c.Network.Params(); err == nil {
			c.BlockfrostUrl = params.BlockfrostUrl
		}
	}
	if c.Timeout == 0 {
		c.Timeout = defaultConfig.Timeout
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultConfig.LogLevel
	}
	if c.RpcHostPort == "" {
		c.RpcHostPort = defaultConfig.RpcHostPort
	}
}

func (c *Config) Validate() (err error) {
	if err = c.Network.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	switch c.ChainSource {
	case ChainSourceOgmios:
	case ChainSourceBlockfrost:
		if c.BlockfrostUrl == "" {
			return errors.Wrap(ErrInvalidConfig, "blockfrost chain source without url")
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown chain source '%s'", c.ChainSource)
	}

	switch c.SubmitVia {
	case SubmitViaOgmios, SubmitViaNode:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown submitter '%s'", c.SubmitVia)
	}

	if _, err = c.ogmiosVersion(); err != nil {
		return
	}

	if _, err = c.nodeEra(); err != nil {
		return
	}

	if _, err = zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "log level: %v", err)
	}

	if c.Timeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative timeout")
	}
	return
}

func (c *Config) ogmiosVersion() (OgmiosVersion, error) {
	switch strings.ToLower(c.OgmiosVersion) {
	case "v6", "6", "":
		return OgmiosV6, nil
	case "v5", "5":
		return OgmiosV5, nil
	}
	return 0, errors.Wrapf(ErrInvalidConfig, "unknown ogmios version '%s'", c.OgmiosVersion)
}

// nodeEra is the era submitted transactions are tagged with, conway when
// unset. Eras before alonzo cannot carry the body this package encodes.
func (c *Config) nodeEra() (era Era, err error) {
	if c.NodeEra == "" {
		return EraConway, nil
	}
	if era, err = ParseEra(c.NodeEra); err != nil {
		return 0, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if !era.SupportsScripts() {
		return 0, errors.Wrapf(ErrInvalidConfig, "cannot submit to a node in the %s era", era)
	}
	return
}

// Level is the parsed log level, info when unset or invalid.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

func (c *Config) String() string {
	j, _ := json.MarshalIndent(c, "", "  ")
	return string(j)
}

// ConfigFlags registers the config keys on fs. Flag names match the keys of
// a config file and, upper cased with a CARDANO_ prefix, the environment.
func ConfigFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a json/yaml/toml config file")
	fs.String("network", string(defaultConfig.Network), "Set network (mainnet|preprod|preview|privnet)")
	fs.String("chainsource", defaultConfig.ChainSource, "Where to query utxos and parameters (ogmios|blockfrost)")
	fs.String("submitvia", defaultConfig.SubmitVia, "Where to submit transactions (ogmios|node)")
	fs.String("ogmiosendpoint", defaultConfig.OgmiosEndpoint, "Ogmios websocket url")
	fs.String("ogmiosversion", defaultConfig.OgmiosVersion, "Ogmios protocol version (v6|v5)")
	fs.String("nodesocket", defaultConfig.NodeSocket, "Path (or host:port) of the node-to-client socket")
	fs.String("nodesocketnetwork", defaultConfig.NodeSocketNetwork, "Node socket network (unix|tcp)")
	fs.String("nodeera", "", "Era to tag transactions submitted to the node with, the latest when empty")
	fs.String("blockfrosturl", "", "Blockfrost api url, defaults per network")
	fs.String("blockfrostprojectid", "", "Blockfrost project id")
	fs.Duration("timeout", defaultConfig.Timeout, "Per request timeout")
	fs.String("loglevel", defaultConfig.LogLevel, "Set the log level (trace|debug|info|warn|error|fatal)")
	fs.String("databasepath", "", "Path to the submission journal sqlite database, in memory when empty")
	fs.String("rpchostport", defaultConfig.RpcHostPort, "Set host:port for the http/rpc listener")
}

// LoadConfig layers flags over environment over config file over defaults.
// fs must have been set up with ConfigFlags and parsed.
func LoadConfig(fs *pflag.FlagSet) (config *Config, err error) {
	v := viper.New()
	v.SetEnvPrefix("CARDANO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err = v.BindPFlags(fs); err != nil {
		return nil, errors.WithStack(err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err = v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "read %s: %v", path, err)
		}
	}

	config = &Config{}
	if err = v.Unmarshal(config); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%v", err)
	}

	config.setDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return
}

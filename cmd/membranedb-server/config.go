package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/daniacca/membranedb/internal/plingua"
	"github.com/daniacca/membranedb/internal/psystem"
)

// ServerConfig holds the server configuration
type ServerConfig struct {
	Addr               string
	DefaultEnvID       string
	SystemFile         string
	SnapshotDriver     string // fs or s3
	SnapshotDir        string
	SnapshotFormat     string // json or cbor
	SnapshotEverySteps int
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3Prefix           string
	S3PathStyle        bool
	TraceDB            string
	LogLevel           string
	Dissolution        psystem.DissolutionPolicy
	Workers            int
}

// configResolver defines how to resolve a single configuration value
type configResolver struct {
	flagName    string
	envVarName  string
	tomlKey     string
	defaultVal  string
	description string
	setter      func(*ServerConfig, string) error
}

func intSetter(name string, min int, set func(*ServerConfig, int)) func(*ServerConfig, string) error {
	return func(c *ServerConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < min {
			return fmt.Errorf("invalid value for %s: %q (expected an integer >= %d)", name, v, min)
		}
		set(c, n)
		return nil
	}
}

func serverResolvers() []configResolver {
	return []configResolver{
		{
			flagName: "addr", envVarName: "MEMBRANEDB_ADDR", tomlKey: "addr",
			defaultVal:  ":8080",
			description: "HTTP listen address (e.g. :8080, 0.0.0.0:8080)",
			setter:      func(c *ServerConfig, v string) error { c.Addr = v; return nil },
		},
		{
			flagName: "env-id", envVarName: "MEMBRANEDB_ENV_ID", tomlKey: "env_id",
			defaultVal:  "default",
			description: "environment ID for the system loaded at startup",
			setter:      func(c *ServerConfig, v string) error { c.DefaultEnvID = v; return nil },
		},
		{
			flagName: "system-file", envVarName: "MEMBRANEDB_SYSTEM_FILE", tomlKey: "system_file",
			defaultVal:  "",
			description: "optional .pli or JSON system file to load at startup",
			setter:      func(c *ServerConfig, v string) error { c.SystemFile = v; return nil },
		},
		{
			flagName: "snapshot-driver", envVarName: "MEMBRANEDB_SNAPSHOT_DRIVER", tomlKey: "snapshot.driver",
			defaultVal:  "fs",
			description: "snapshot storage: fs, s3 or none",
			setter: func(c *ServerConfig, v string) error {
				switch strings.ToLower(v) {
				case "fs", "s3", "none":
					c.SnapshotDriver = strings.ToLower(v)
					return nil
				}
				return fmt.Errorf("invalid value for snapshot-driver: %q (expected fs, s3 or none)", v)
			},
		},
		{
			flagName: "snapshot-dir", envVarName: "MEMBRANEDB_SNAPSHOT_DIR", tomlKey: "snapshot.dir",
			defaultVal:  "./data",
			description: "directory where environment snapshots are stored (fs driver)",
			setter:      func(c *ServerConfig, v string) error { c.SnapshotDir = v; return nil },
		},
		{
			flagName: "snapshot-format", envVarName: "MEMBRANEDB_SNAPSHOT_FORMAT", tomlKey: "snapshot.format",
			defaultVal:  "json",
			description: "snapshot encoding: json or cbor",
			setter:      func(c *ServerConfig, v string) error { c.SnapshotFormat = v; return nil },
		},
		{
			flagName: "snapshot-every-steps", envVarName: "MEMBRANEDB_SNAPSHOT_EVERY_STEPS", tomlKey: "snapshot.every_steps",
			defaultVal:  "1000",
			description: "how often to write snapshots (in steps); 0 disables periodic snapshots",
			setter:      intSetter("snapshot-every-steps", 0, func(c *ServerConfig, n int) { c.SnapshotEverySteps = n }),
		},
		{
			flagName: "s3-bucket", envVarName: "MEMBRANEDB_S3_BUCKET", tomlKey: "s3.bucket",
			description: "S3 bucket for snapshots (s3 driver)",
			setter:      func(c *ServerConfig, v string) error { c.S3Bucket = v; return nil },
		},
		{
			flagName: "s3-region", envVarName: "MEMBRANEDB_S3_REGION", tomlKey: "s3.region",
			defaultVal:  "us-east-1",
			description: "S3 region",
			setter:      func(c *ServerConfig, v string) error { c.S3Region = v; return nil },
		},
		{
			flagName: "s3-endpoint", envVarName: "MEMBRANEDB_S3_ENDPOINT", tomlKey: "s3.endpoint",
			description: "custom S3 endpoint, e.g. a MinIO URL",
			setter:      func(c *ServerConfig, v string) error { c.S3Endpoint = v; return nil },
		},
		{
			flagName: "s3-prefix", envVarName: "MEMBRANEDB_S3_PREFIX", tomlKey: "s3.prefix",
			defaultVal:  "snapshots/",
			description: "key prefix for snapshot objects",
			setter:      func(c *ServerConfig, v string) error { c.S3Prefix = v; return nil },
		},
		{
			flagName: "s3-path-style", envVarName: "MEMBRANEDB_S3_PATH_STYLE", tomlKey: "s3.path_style",
			defaultVal:  "false",
			description: "use path-style S3 addressing",
			setter: func(c *ServerConfig, v string) error {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return fmt.Errorf("invalid value for s3-path-style: %q", v)
				}
				c.S3PathStyle = b
				return nil
			},
		},
		{
			flagName: "trace-db", envVarName: "MEMBRANEDB_TRACE_DB", tomlKey: "trace_db",
			description: "optional SQLite file recording simulate requests",
			setter:      func(c *ServerConfig, v string) error { c.TraceDB = v; return nil },
		},
		{
			flagName: "log-level", envVarName: "MEMBRANEDB_LOG_LEVEL", tomlKey: "log_level",
			defaultVal:  "info",
			description: "log level: debug, info, warn, error",
			setter:      func(c *ServerConfig, v string) error { c.LogLevel = v; return nil },
		},
		{
			flagName: "dissolution", envVarName: "MEMBRANEDB_DISSOLUTION", tomlKey: "engine.dissolution",
			defaultVal:  "keep",
			description: "what happens to children of a dissolved membrane: keep or reparent",
			setter: func(c *ServerConfig, v string) error {
				p, err := psystem.ParseDissolutionPolicy(v)
				if err != nil {
					return err
				}
				c.Dissolution = p
				return nil
			},
		},
		{
			flagName: "workers", envVarName: "MEMBRANEDB_WORKERS", tomlKey: "engine.workers",
			defaultVal:  "1",
			description: "goroutines used to select rules within a step",
			setter:      intSetter("workers", 1, func(c *ServerConfig, n int) { c.Workers = n }),
		},
	}
}

// loadServerConfig resolves every option from, in order of precedence, the
// command line, the environment, the TOML file named by -config (or
// MEMBRANEDB_CONFIG) and the built-in default.
func loadServerConfig(args []string) (ServerConfig, error) {
	cfg := ServerConfig{}
	resolvers := serverResolvers()

	fs := flag.NewFlagSet("membranedb-server", flag.ContinueOnError)
	configFile := fs.String("config", "", "optional TOML configuration file")
	flagVars := make(map[string]*string)
	for _, resolver := range resolvers {
		flagVars[resolver.flagName] = fs.String(resolver.flagName, "", resolver.description)
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	path := *configFile
	if path == "" {
		path = os.Getenv("MEMBRANEDB_CONFIG")
	}
	fileValues := map[string]string{}
	if path != "" {
		var err error
		if fileValues, err = loadConfigFile(path); err != nil {
			return cfg, err
		}
	}

	var errs []error
	for _, resolver := range resolvers {
		var value string
		if *flagVars[resolver.flagName] != "" {
			value = *flagVars[resolver.flagName]
		} else if envValue := os.Getenv(resolver.envVarName); envValue != "" {
			value = envValue
		} else if fileValue, ok := fileValues[resolver.tomlKey]; ok {
			value = fileValue
		} else {
			value = resolver.defaultVal
		}
		if err := resolver.setter(&cfg, value); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.SnapshotDriver == "s3" && cfg.S3Bucket == "" {
		errs = append(errs, errors.New("s3-bucket is required for the s3 snapshot driver"))
	}

	return cfg, errors.Join(errs...)
}

// loadConfigFile flattens a TOML document into dotted keys
// ("snapshot.dir") with string values.
func loadConfigFile(path string) (map[string]string, error) {
	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	out := make(map[string]string)
	flattenTOML("", doc, out)
	return out, nil
}

func flattenTOML(prefix string, doc map[string]any, out map[string]string) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if table, ok := v.(map[string]any); ok {
			flattenTOML(key, table, out)
			continue
		}
		out[key] = fmt.Sprint(v)
	}
}

// loadInitialSystemFromFile loads a system from a .json SystemConfig file
// or from DSL source.
func loadInitialSystemFromFile(path string) (*psystem.System, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var cfg psystem.SystemConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid system json: %w", err)
		}
		return psystem.BuildSystemFromConfig(cfg)
	}
	return plingua.ParseFile(path)
}

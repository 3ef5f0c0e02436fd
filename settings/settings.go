package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DEABackend   = "dea"
	DiegoBackend = "diego"
	KpackBackend = "kpack"

	DefaultMinimumStagingMemoryMB = 1024
	DefaultMinimumStagingDiskMB   = 4096
	DefaultStackName              = "cflinuxfs3"

	// ConfigFileEnv names an optional TOML file layered under the environment.
	ConfigFileEnv = "CF_STAGING_CONFIG"
)

type Settings struct {
	Staging   Staging
	Blobstore Blobstore
	Bus       Bus
	Kpack     Kpack
	Queues    Queues
}

type Staging struct {
	MinimumMemoryMB        int64
	MinimumDiskMB          int64
	MinimumFileDescriptors int64
	Stack                  string
	Backend                string
	Timeout                time.Duration
	EgressRules            []EgressRule
}

// DefaultStack is the stack used when a staging request does not name one.
func (s Staging) DefaultStack() string {
	if s.Stack == "" {
		return DefaultStackName
	}
	return s.Stack
}

func (s Staging) MinimumMemory() int64 {
	if s.MinimumMemoryMB == 0 {
		return DefaultMinimumStagingMemoryMB
	}
	return s.MinimumMemoryMB
}

func (s Staging) MinimumDisk() int64 {
	if s.MinimumDiskMB == 0 {
		return DefaultMinimumStagingDiskMB
	}
	return s.MinimumDiskMB
}

type EgressRule struct {
	Protocol    string   `toml:"protocol" json:"protocol"`
	Destination string   `toml:"destination" json:"destination"`
	Ports       []uint16 `toml:"ports" json:"ports,omitempty"`
}

type Blobstore struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	PackagesBucket   string
	DropletsBucket   string
	BuildpacksBucket string
	CacheBucket      string

	URLExpiry time.Duration
}

type Bus struct {
	NatsURL string
}

type Kpack struct {
	// RegistryTagBase is the container registry prefix to upload source & build images do
	RegistryTagBase     string
	RegistrySecret      string
	PackageRegistryBase string
	BuilderName         string
	ServiceAccount      string
}

type Queues struct {
	LocalWorkers   int
	GenericWorkers int
}

func Defaults() *Settings {
	return &Settings{
		Staging: Staging{
			MinimumMemoryMB:        DefaultMinimumStagingMemoryMB,
			MinimumDiskMB:          DefaultMinimumStagingDiskMB,
			MinimumFileDescriptors: 16384,
			Stack:                  DefaultStackName,
			Backend:                DiegoBackend,
			Timeout:                15 * time.Minute,
		},
		Blobstore: Blobstore{
			Region:           "us-east-1",
			PackagesBucket:   "cc-packages",
			DropletsBucket:   "cc-droplets",
			BuildpacksBucket: "cc-buildpacks",
			CacheBucket:      "cc-resources",
			URLExpiry:        time.Hour,
		},
		Bus: Bus{
			NatsURL: "nats://127.0.0.1:4222",
		},
		Kpack: Kpack{
			BuilderName:    "cf-default-builder",
			ServiceAccount: "kpack-service-account",
		},
		Queues: Queues{
			LocalWorkers:   2,
			GenericWorkers: 2,
		},
	}
}

// Load builds settings from defaults, then the file named by CF_STAGING_CONFIG, then the environment.
func Load() (*Settings, error) {
	s := Defaults()

	if path, ok := os.LookupEnv(ConfigFileEnv); ok && path != "" {
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := s.loadEnv(); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	switch s.Staging.Backend {
	case DEABackend, DiegoBackend, KpackBackend:
	default:
		return fmt.Errorf("unknown staging backend %q", s.Staging.Backend)
	}

	if s.Staging.Backend == KpackBackend {
		if s.Kpack.RegistryTagBase == "" {
			return errors.New("REGISTRY_TAG_BASE not configured")
		}
		if s.Kpack.RegistrySecret == "" {
			return errors.New("REGISTRY_SECRET not configured")
		}
	}
	return nil
}

type fileConfig struct {
	Staging struct {
		MinimumMemoryMB        int64        `toml:"minimum_memory_mb"`
		MinimumDiskMB          int64        `toml:"minimum_disk_mb"`
		MinimumFileDescriptors int64        `toml:"minimum_file_descriptors"`
		DefaultStack           string       `toml:"default_stack"`
		Backend                string       `toml:"backend"`
		Timeout                string       `toml:"timeout"`
		EgressRules            []EgressRule `toml:"egress_rules"`
	} `toml:"staging"`
	Blobstore struct {
		Endpoint         string `toml:"endpoint"`
		Region           string `toml:"region"`
		AccessKeyID      string `toml:"access_key_id"`
		SecretAccessKey  string `toml:"secret_access_key"`
		PackagesBucket   string `toml:"packages_bucket"`
		DropletsBucket   string `toml:"droplets_bucket"`
		BuildpacksBucket string `toml:"buildpacks_bucket"`
		CacheBucket      string `toml:"cache_bucket"`
		URLExpiry        string `toml:"url_expiry"`
	} `toml:"blobstore"`
	Bus struct {
		NatsURL string `toml:"nats_url"`
	} `toml:"bus"`
	Kpack struct {
		RegistryTagBase     string `toml:"registry_tag_base"`
		RegistrySecret      string `toml:"registry_secret"`
		PackageRegistryBase string `toml:"package_registry_base"`
		BuilderName         string `toml:"builder"`
		ServiceAccount      string `toml:"service_account"`
	} `toml:"kpack"`
	Queues struct {
		LocalWorkers   int `toml:"local_workers"`
		GenericWorkers int `toml:"generic_workers"`
	} `toml:"queues"`
}

func (s *Settings) loadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load staging config: %w", err)
	}

	if meta.IsDefined("staging", "minimum_memory_mb") {
		s.Staging.MinimumMemoryMB = raw.Staging.MinimumMemoryMB
	}
	if meta.IsDefined("staging", "minimum_disk_mb") {
		s.Staging.MinimumDiskMB = raw.Staging.MinimumDiskMB
	}
	if meta.IsDefined("staging", "minimum_file_descriptors") {
		s.Staging.MinimumFileDescriptors = raw.Staging.MinimumFileDescriptors
	}
	if meta.IsDefined("staging", "default_stack") {
		s.Staging.Stack = strings.TrimSpace(raw.Staging.DefaultStack)
	}
	if meta.IsDefined("staging", "backend") {
		s.Staging.Backend = strings.TrimSpace(raw.Staging.Backend)
	}
	if meta.IsDefined("staging", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Staging.Timeout))
		if err != nil {
			return fmt.Errorf("parse staging timeout: %w", err)
		}
		s.Staging.Timeout = d
	}
	if meta.IsDefined("staging", "egress_rules") {
		s.Staging.EgressRules = raw.Staging.EgressRules
	}

	setString(meta, &s.Blobstore.Endpoint, raw.Blobstore.Endpoint, "blobstore", "endpoint")
	setString(meta, &s.Blobstore.Region, raw.Blobstore.Region, "blobstore", "region")
	setString(meta, &s.Blobstore.AccessKeyID, raw.Blobstore.AccessKeyID, "blobstore", "access_key_id")
	setString(meta, &s.Blobstore.SecretAccessKey, raw.Blobstore.SecretAccessKey, "blobstore", "secret_access_key")
	setString(meta, &s.Blobstore.PackagesBucket, raw.Blobstore.PackagesBucket, "blobstore", "packages_bucket")
	setString(meta, &s.Blobstore.DropletsBucket, raw.Blobstore.DropletsBucket, "blobstore", "droplets_bucket")
	setString(meta, &s.Blobstore.BuildpacksBucket, raw.Blobstore.BuildpacksBucket, "blobstore", "buildpacks_bucket")
	setString(meta, &s.Blobstore.CacheBucket, raw.Blobstore.CacheBucket, "blobstore", "cache_bucket")
	if meta.IsDefined("blobstore", "url_expiry") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Blobstore.URLExpiry))
		if err != nil {
			return fmt.Errorf("parse blobstore url_expiry: %w", err)
		}
		s.Blobstore.URLExpiry = d
	}

	setString(meta, &s.Bus.NatsURL, raw.Bus.NatsURL, "bus", "nats_url")

	setString(meta, &s.Kpack.RegistryTagBase, raw.Kpack.RegistryTagBase, "kpack", "registry_tag_base")
	setString(meta, &s.Kpack.RegistrySecret, raw.Kpack.RegistrySecret, "kpack", "registry_secret")
	setString(meta, &s.Kpack.PackageRegistryBase, raw.Kpack.PackageRegistryBase, "kpack", "package_registry_base")
	setString(meta, &s.Kpack.BuilderName, raw.Kpack.BuilderName, "kpack", "builder")
	setString(meta, &s.Kpack.ServiceAccount, raw.Kpack.ServiceAccount, "kpack", "service_account")

	if meta.IsDefined("queues", "local_workers") {
		s.Queues.LocalWorkers = raw.Queues.LocalWorkers
	}
	if meta.IsDefined("queues", "generic_workers") {
		s.Queues.GenericWorkers = raw.Queues.GenericWorkers
	}
	return nil
}

func setString(meta toml.MetaData, dst *string, value string, key ...string) {
	if meta.IsDefined(key...) {
		*dst = strings.TrimSpace(value)
	}
}

func (s *Settings) loadEnv() error {
	envString(&s.Staging.Backend, "STAGING_BACKEND")
	envString(&s.Staging.Stack, "DEFAULT_STACK")
	if err := envInt64(&s.Staging.MinimumMemoryMB, "STAGING_MINIMUM_MEMORY_MB"); err != nil {
		return err
	}
	if err := envInt64(&s.Staging.MinimumDiskMB, "STAGING_MINIMUM_DISK_MB"); err != nil {
		return err
	}

	envString(&s.Blobstore.Endpoint, "BLOBSTORE_ENDPOINT")
	envString(&s.Blobstore.Region, "BLOBSTORE_REGION")
	envString(&s.Blobstore.AccessKeyID, "BLOBSTORE_ACCESS_KEY_ID")
	envString(&s.Blobstore.SecretAccessKey, "BLOBSTORE_SECRET_ACCESS_KEY")

	envString(&s.Bus.NatsURL, "NATS_URL")

	envString(&s.Kpack.RegistryTagBase, "REGISTRY_TAG_BASE")
	envString(&s.Kpack.RegistrySecret, "REGISTRY_SECRET")
	envString(&s.Kpack.PackageRegistryBase, "PACKAGE_REGISTRY_TAG_BASE")
	return nil
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func envInt64(dst *int64, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", name, err)
	}
	*dst = n
	return nil
}

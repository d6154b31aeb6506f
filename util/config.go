package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host     string `yaml:"host"`
		HttpPort int    `yaml:"httpPort"`

		// Identity of the single local actor.
		ActorURI    string `yaml:"actorUri"`
		ActorHandle string `yaml:"actorHandle"`
		PublicURL   string `yaml:"publicUrl"`

		// Collaborators.
		MongoURI  string `yaml:"mongoUri"`
		MongoDB   string `yaml:"mongoDb"`
		EngineURL string `yaml:"engineUrl"`

		// Timeline retention.
		TimelineMax            int64 `yaml:"timelineMax"`
		RetentionIntervalHours int   `yaml:"retentionIntervalHours"`

		// Re-follow repair loop.
		RefollowDelaySeconds    int `yaml:"refollowDelaySeconds"`
		RefollowIntervalMinutes int `yaml:"refollowIntervalMinutes"`

		// Link previews.
		PreviewMaxLinks       int   `yaml:"previewMaxLinks"`
		PreviewConcurrency    int64 `yaml:"previewConcurrency"`
		PreviewTimeoutSeconds int   `yaml:"previewTimeoutSeconds"`
	}
}

// ReadConf loads config.yaml from the working directory, falling back to
// the embedded defaults, then applies FEDIPOINT_* env overrides.
func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	buf, err := os.ReadFile(ConfigFileName)
	if err != nil {
		buf = embeddedConfig
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	applyEnvInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				fmt.Println(err)
				return
			}
			*dst = n
		}
	}

	applyEnvString("FEDIPOINT_HOST", &c.Conf.Host)
	applyEnvInt("FEDIPOINT_HTTPPORT", &c.Conf.HttpPort)
	applyEnvString("FEDIPOINT_ACTORURI", &c.Conf.ActorURI)
	applyEnvString("FEDIPOINT_ACTORHANDLE", &c.Conf.ActorHandle)
	applyEnvString("FEDIPOINT_PUBLICURL", &c.Conf.PublicURL)
	applyEnvString("FEDIPOINT_MONGOURI", &c.Conf.MongoURI)
	applyEnvString("FEDIPOINT_MONGODB", &c.Conf.MongoDB)
	applyEnvString("FEDIPOINT_ENGINEURL", &c.Conf.EngineURL)

	if v := os.Getenv("FEDIPOINT_TIMELINEMAX"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.TimelineMax = n
		}
	}

	return c, nil
}

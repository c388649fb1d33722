package settings

import (
	"fmt"
	"net"
	"reflect"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-viper/mapstructure/v2"

	"robottelo/pkg/logging"
)

// Server is the typed view of the server section.
type Server struct {
	Hostname      string   `mapstructure:"hostname"`
	Hostnames     []string `mapstructure:"hostnames"`
	AdminUsername string   `mapstructure:"admin_username"`
	AdminPassword string   `mapstructure:"admin_password"`
	Scheme        string   `mapstructure:"scheme"`
	Port          int      `mapstructure:"port"`
	NetworkType   string   `mapstructure:"network_type"`
	SSHUsername   string   `mapstructure:"ssh_username"`
	SSHPassword   string   `mapstructure:"ssh_password"`
	SSHPort       int      `mapstructure:"ssh_port"`
	VerifyCA      bool     `mapstructure:"verify_ca"`
	Version       struct {
		Release     string `mapstructure:"release"`
		Source      string `mapstructure:"source"`
		RHELVersion string `mapstructure:"rhel_version"`
	} `mapstructure:"version"`
	SSHClient struct {
		CommandTimeout int `mapstructure:"command_timeout"`
	} `mapstructure:"ssh_client"`
}

// URL returns scheme://hostname[:port], omitting default ports.
func (s Server) URL() string {
	if (s.Scheme == "https" && s.Port == 443) || (s.Scheme == "http" && s.Port == 80) || s.Port == 0 {
		return fmt.Sprintf("%s://%s", s.Scheme, s.Hostname)
	}
	return fmt.Sprintf("%s://%s", s.Scheme, net.JoinHostPort(s.Hostname, strconv.Itoa(s.Port)))
}

// Robottelo is the harness's own section.
type Robottelo struct {
	Settings struct {
		IgnoreValidationErrors bool `mapstructure:"ignore_validation_errors"`
		GetFresh               bool `mapstructure:"get_fresh"`
	} `mapstructure:"settings"`
	Cleanup         bool   `mapstructure:"cleanup"`
	TmpDir          string `mapstructure:"tmp_dir"`
	RunOneDatapoint bool   `mapstructure:"run_one_datapoint"`
	Locale          string `mapstructure:"locale"`
	SetupTimeout    int    `mapstructure:"setup_timeout"`
}

// SetupTimeoutDuration returns setup_timeout in seconds as a duration.
func (r Robottelo) SetupTimeoutDuration() time.Duration {
	return time.Duration(r.SetupTimeout) * time.Second
}

// SharedFunction configures cross-worker result sharing.
type SharedFunction struct {
	Enabled       bool   `mapstructure:"enabled"`
	Storage       string `mapstructure:"storage"`
	Scope         string `mapstructure:"scope"`
	LockTimeout   int    `mapstructure:"lock_timeout"`
	ShareTimeout  int    `mapstructure:"share_timeout"`
	StorageDir    string `mapstructure:"storage_dir"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPassword string `mapstructure:"redis_password"`
	CallRetries   int    `mapstructure:"call_retries"`
}

// Upgrade describes an upgrade run.
type Upgrade struct {
	RhevCapHost     string          `mapstructure:"rhev_cap_host"`
	CapsuleHostname string          `mapstructure:"capsule_hostname"`
	FromVersion     *semver.Version `mapstructure:"from_version"`
	ToVersion       *semver.Version `mapstructure:"to_version"`
	OS              string          `mapstructure:"os"`
	DataFile        string          `mapstructure:"data_file"`
}

// Decode decodes a section (or any dotted path) into out.
func (s *Settings) Decode(path string, out any) error {
	v, err := s.Get(path)
	if err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			semverHook,
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode settings %s: %w", path, err)
	}
	return nil
}

func semverHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(&semver.Version{}) {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return data, nil
	case *semver.Version:
		return v, nil
	case string:
		return semver.NewVersion(v)
	}
	return semver.NewVersion(fmt.Sprint(data))
}

func decodeOrLog[T any](s *Settings, path string) T {
	var out T
	if err := s.Decode(path, &out); err != nil {
		logging.Debug("Settings", "Section %s not decoded: %v", path, err)
	}
	return out
}

// Server returns the typed server section.
func (s *Settings) Server() Server { return decodeOrLog[Server](s, "server") }

// Robottelo returns the typed robottelo section.
func (s *Settings) Robottelo() Robottelo { return decodeOrLog[Robottelo](s, "robottelo") }

// SharedFunction returns the typed shared_function section.
func (s *Settings) SharedFunction() SharedFunction {
	return decodeOrLog[SharedFunction](s, "shared_function")
}

// Upgrade returns the typed upgrade section.
func (s *Settings) Upgrade() Upgrade { return decodeOrLog[Upgrade](s, "upgrade") }

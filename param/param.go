/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package param

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/units"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	// ByteSize is a number of bytes that may be written in configuration
	// as a human-readable string such as "8MiB".
	ByteSize int64

	Config struct {
		Debug         bool            `mapstructure:"debug"`
		TLSSkipVerify bool            `mapstructure:"tlsskipverify"`
		Logging       LoggingConfig   `mapstructure:"logging"`
		Client        ClientConfig    `mapstructure:"client"`
		Transport     TransportConfig `mapstructure:"transport"`
	}

	LoggingConfig struct {
		Level       string `mapstructure:"level" validate:"omitempty,oneof=panic fatal error warn warning info debug trace Panic Fatal Error Warn Warning Info Debug Trace"`
		LogLocation string `mapstructure:"loglocation"`
	}

	ClientConfig struct {
		RegistryURL            string            `mapstructure:"registryurl" validate:"required,url"`
		WebServiceHost         string            `mapstructure:"webservicehost"`
		LocalWebService        string            `mapstructure:"localwebservice"`
		CertFile               string            `mapstructure:"certfile"`
		Token                  string            `mapstructure:"token"`
		RootNode               string            `mapstructure:"rootnode"`
		Archive                string            `mapstructure:"archive"`
		ResourceAliases        map[string]string `mapstructure:"resourcealiases"`
		RetryDelay             time.Duration     `mapstructure:"retrydelay" validate:"gt=0"`
		MaxRetryDelay          time.Duration     `mapstructure:"maxretrydelay" validate:"gtefield=RetryDelay"`
		MaxRetryTime           time.Duration     `mapstructure:"maxretrytime" validate:"gt=0"`
		MaxRetries             int               `mapstructure:"maxretries" validate:"gte=0"`
		MaxIntermittentRetries int               `mapstructure:"maxintermittentretries" validate:"gte=0"`
		MaxRedirects           int               `mapstructure:"maxredirects" validate:"gte=0"`
		MaxLinkHops            int               `mapstructure:"maxlinkhops" validate:"gt=0"`
		JobPollWait            time.Duration     `mapstructure:"jobpollwait" validate:"gte=0"`
		JobMaxPolls            int               `mapstructure:"jobmaxpolls" validate:"gt=0"`
		ListingLimit           int               `mapstructure:"listinglimit" validate:"gt=0"`
		BufferSize             ByteSize          `mapstructure:"buffersize" validate:"gt=0"`
		NodeCacheTTL           time.Duration     `mapstructure:"nodecachettl" validate:"gte=0"`
		EndpointFailureTTL     time.Duration     `mapstructure:"endpointfailurettl" validate:"gte=0"`
		MD5CacheFile           string            `mapstructure:"md5cachefile"`
	}

	TransportConfig struct {
		DialerTimeout         time.Duration `mapstructure:"dialertimeout"`
		DialerKeepAlive       time.Duration `mapstructure:"dialerkeepalive"`
		MaxIdleConns          int           `mapstructure:"maxidleconns"`
		IdleConnTimeout       time.Duration `mapstructure:"idleconntimeout"`
		TLSHandshakeTimeout   time.Duration `mapstructure:"tlshandshaketimeout"`
		ExpectContinueTimeout time.Duration `mapstructure:"expectcontinuetimeout"`
		ResponseHeaderTimeout time.Duration `mapstructure:"responseheadertimeout"`
	}
)

var (
	viperConfig atomic.Pointer[Config]
	configMutex sync.Mutex
)

// stringToByteSizeHookFunc converts strings such as "8MiB" or "512KB" into a
// ByteSize.  Plain integers are passed through for the default conversion.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return ByteSize(0), nil
		}
		if strings.Trim(raw, "0123456789") == "" {
			return data, nil
		}
		size, err := units.ParseStrictBytes(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse byte size '%s'", raw)
		}
		return ByteSize(size), nil
	}
}

// DecodeConfig decodes the provided viper instance into a new Config struct
// without touching the cached copy.
func DecodeConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("nil viper instance")
	}
	newConfig := new(Config)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
		Result: newConfig,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, err
	}
	return newConfig, nil
}

// Refresh reloads the cached configuration from viper's global instance.
// Code that mutates viper directly must call it afterwards.
func Refresh() (*Config, error) {
	configMutex.Lock()
	defer configMutex.Unlock()
	newConfig, err := DecodeConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	viperConfig.Store(newConfig)
	return newConfig, nil
}

// GetUnmarshaledConfig returns the cached configuration.
func GetUnmarshaledConfig() (*Config, error) {
	config := viperConfig.Load()
	if config == nil {
		return nil, errors.New("Config hasn't been unmarshaled yet.")
	}
	return config, nil
}

// Set sets a parameter value in viper and refreshes the cached config.
func Set(key string, value interface{}) error {
	return MultiSet(map[string]interface{}{key: value})
}

// MultiSet sets multiple parameter values with a single refresh.
func MultiSet(keyValues map[string]interface{}) error {
	for key, value := range keyValues {
		viper.Set(key, value)
	}
	_, err := Refresh()
	return err
}

// Reset drops every setting, intended for unit tests.
func Reset() {
	configMutex.Lock()
	defer configMutex.Unlock()
	viper.Reset()
	viperConfig.Store(nil)
}

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

// Package config loads the client configuration: built-in defaults, the
// YAML config file, VOS_* environment variables and the legacy VOSPACE_*
// variables, in increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opencadc/govos/logging"
	"github.com/opencadc/govos/param"
)

const (
	EnvPrefix = "VOS"

	DefaultRegistryURL = "https://ws.cadc-ccda.hia-iha.nrc-cnrc.gc.ca/reg"

	configFileEnv = "VOS_CONFIG_FILE"
)

// Environment variables understood by earlier releases of the client.
var legacyEnv = map[string]string{
	param.Client_WebServiceHost.GetName():  "VOSPACE_WEBSERVICE",
	param.Client_LocalWebService.GetName(): "LOCAL_VOSPACE_WEBSERVICE",
	param.Client_CertFile.GetName():        "VOSPACE_CERTFILE",
	param.Client_Archive.GetName():         "VOSPACE_ARCHIVE",
	param.Client_Token.GetName():           "VOSPACE_TOKEN",
}

// SetClientDefaults installs the built-in value of every client setting.
func SetClientDefaults(v *viper.Viper) {
	v.SetDefault(param.Logging_Level.GetName(), "Warning")
	v.SetDefault(param.Client_RegistryURL.GetName(), DefaultRegistryURL)
	v.SetDefault(param.Client_Archive.GetName(), "vospace")

	v.SetDefault(param.Client_RetryDelay.GetName(), 30*time.Second)
	v.SetDefault(param.Client_MaxRetryDelay.GetName(), 128*time.Second)
	v.SetDefault(param.Client_MaxRetryTime.GetName(), 900*time.Second)
	v.SetDefault(param.Client_MaxRetries.GetName(), 10000)
	v.SetDefault(param.Client_MaxIntermittentRetries.GetName(), 3)
	v.SetDefault(param.Client_MaxRedirects.GetName(), 10)
	v.SetDefault(param.Client_MaxLinkHops.GetName(), 10)
	v.SetDefault(param.Client_JobPollWait.GetName(), 6*time.Second)
	v.SetDefault(param.Client_JobMaxPolls.GetName(), 100)
	v.SetDefault(param.Client_ListingLimit.GetName(), 500)
	v.SetDefault(param.Client_BufferSize.GetName(), "8MiB")
	v.SetDefault(param.Client_NodeCacheTTL.GetName(), time.Duration(0))
	v.SetDefault(param.Client_EndpointFailureTTL.GetName(), 5*time.Minute)

	v.SetDefault(param.Transport_DialerTimeout.GetName(), 10*time.Second)
	v.SetDefault(param.Transport_DialerKeepAlive.GetName(), 30*time.Second)
	v.SetDefault(param.Transport_MaxIdleConns.GetName(), 30)
	v.SetDefault(param.Transport_IdleConnTimeout.GetName(), 90*time.Second)
	v.SetDefault(param.Transport_TLSHandshakeTimeout.GetName(), 15*time.Second)
	v.SetDefault(param.Transport_ExpectContinueTimeout.GetName(), 1*time.Second)
	v.SetDefault(param.Transport_ResponseHeaderTimeout.GetName(), 60*time.Second)

	if home, err := os.UserHomeDir(); err == nil {
		certFile := filepath.Join(home, ".ssl", "cadcproxy.pem")
		if _, err := os.Stat(certFile); err == nil {
			v.SetDefault(param.Client_CertFile.GetName(), certFile)
		}
	}
	if cacheDir, err := os.UserCacheDir(); err == nil {
		v.SetDefault(param.Client_MD5CacheFile.GetName(), filepath.Join(cacheDir, "vos", "md5_cache.db"))
	}
}

// bindClientEnv binds every legacy variable alongside its VOS_ name; the
// VOS_ name is listed first and wins when both are set.
func bindClientEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		modern := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, modern, legacy); err != nil {
			return errors.Wrapf(err, "failed to bind %s", legacy)
		}
	}
	return nil
}

// ConfigFile returns the path of the YAML configuration file.
func ConfigFile() string {
	if configFile := os.Getenv(configFileEnv); configFile != "" {
		return configFile
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "vos", "vos-config.yaml")
	}
	return ""
}

func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile == "" {
		return nil
	}
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("No configuration file at %s", configFile)
			return nil
		}
		return errors.Wrapf(err, "failed to read configuration file %s", configFile)
	}
	log.Debugf("Read configuration from %s", configFile)
	return nil
}

// InitClient loads the configuration into the global viper instance,
// validates it and configures logging.  It is safe to call more than once.
func InitClient() error {
	v := viper.GetViper()
	SetClientDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindClientEnv(v); err != nil {
		return err
	}
	if err := readConfigFile(v, ConfigFile()); err != nil {
		return err
	}

	cfg, err := param.Refresh()
	if err != nil {
		return errors.Wrap(err, "failed to decode configuration")
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	for _, key := range validateConfigKeys() {
		log.Warningf("Unknown configuration key %q is ignored", key)
	}

	if token := param.Client_Token.GetString(); token != "" {
		logging.Redactor().AddSecret(token)
	}
	if param.Debug.GetBool() {
		v.Set(param.Logging_Level.GetName(), "Debug")
	}
	return logging.Setup(param.Logging_Level.GetString(), param.Logging_LogLocation.GetString())
}

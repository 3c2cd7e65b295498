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
	"time"

	"github.com/alecthomas/units"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type StringParam struct {
	name string
}

type StringMapParam struct {
	name string
}

type BoolParam struct {
	name string
}

type IntParam struct {
	name string
}

type DurationParam struct {
	name string
}

type ByteSizeParam struct {
	name string
}

func (sP StringParam) GetString() string {
	return viper.GetString(sP.name)
}

func (sP StringParam) GetName() string {
	return sP.name
}

func (smP StringMapParam) GetStringMap() map[string]string {
	return viper.GetStringMapString(smP.name)
}

func (smP StringMapParam) GetName() string {
	return smP.name
}

func (bP BoolParam) GetBool() bool {
	return viper.GetBool(bP.name)
}

func (bP BoolParam) GetName() string {
	return bP.name
}

func (iP IntParam) GetInt() int {
	return viper.GetInt(iP.name)
}

func (iP IntParam) GetName() string {
	return iP.name
}

func (dP DurationParam) GetDuration() time.Duration {
	return viper.GetDuration(dP.name)
}

func (dP DurationParam) GetName() string {
	return dP.name
}

// GetByteSize accepts either a plain integer or a unit string ("8MiB").
// Unparseable values read as zero; config validation reports them.
func (bsP ByteSizeParam) GetByteSize() int64 {
	raw := viper.Get(bsP.name)
	if str, ok := raw.(string); ok {
		if size, err := units.ParseStrictBytes(str); err == nil {
			return size
		}
	}
	return cast.ToInt64(raw)
}

func (bsP ByteSizeParam) GetName() string {
	return bsP.name
}

var (
	Logging_Level       = StringParam{"Logging.Level"}
	Logging_LogLocation = StringParam{"Logging.LogLocation"}

	Client_RegistryURL     = StringParam{"Client.RegistryURL"}
	Client_WebServiceHost  = StringParam{"Client.WebServiceHost"}
	Client_LocalWebService = StringParam{"Client.LocalWebService"}
	Client_CertFile        = StringParam{"Client.CertFile"}
	Client_Token           = StringParam{"Client.Token"}
	Client_RootNode        = StringParam{"Client.RootNode"}
	Client_Archive         = StringParam{"Client.Archive"}
	Client_MD5CacheFile    = StringParam{"Client.MD5CacheFile"}

	Client_ResourceAliases = StringMapParam{"Client.ResourceAliases"}

	Client_RetryDelay         = DurationParam{"Client.RetryDelay"}
	Client_MaxRetryDelay      = DurationParam{"Client.MaxRetryDelay"}
	Client_MaxRetryTime       = DurationParam{"Client.MaxRetryTime"}
	Client_JobPollWait        = DurationParam{"Client.JobPollWait"}
	Client_NodeCacheTTL       = DurationParam{"Client.NodeCacheTTL"}
	Client_EndpointFailureTTL = DurationParam{"Client.EndpointFailureTTL"}

	Client_MaxRetries             = IntParam{"Client.MaxRetries"}
	Client_MaxIntermittentRetries = IntParam{"Client.MaxIntermittentRetries"}
	Client_MaxRedirects           = IntParam{"Client.MaxRedirects"}
	Client_MaxLinkHops            = IntParam{"Client.MaxLinkHops"}
	Client_JobMaxPolls            = IntParam{"Client.JobMaxPolls"}
	Client_ListingLimit           = IntParam{"Client.ListingLimit"}

	Client_BufferSize = ByteSizeParam{"Client.BufferSize"}

	Transport_DialerTimeout         = DurationParam{"Transport.DialerTimeout"}
	Transport_DialerKeepAlive       = DurationParam{"Transport.DialerKeepAlive"}
	Transport_IdleConnTimeout       = DurationParam{"Transport.IdleConnTimeout"}
	Transport_TLSHandshakeTimeout   = DurationParam{"Transport.TLSHandshakeTimeout"}
	Transport_ExpectContinueTimeout = DurationParam{"Transport.ExpectContinueTimeout"}
	Transport_ResponseHeaderTimeout = DurationParam{"Transport.ResponseHeaderTimeout"}
	Transport_MaxIdleConns          = IntParam{"Transport.MaxIdleConns"}

	Debug         = BoolParam{"Debug"}
	TLSSkipVerify = BoolParam{"TLSSkipVerify"}
)

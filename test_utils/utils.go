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

package test_utils

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/opencadc/govos/config"
	"github.com/opencadc/govos/param"
)

func TestContext(ictx context.Context, t *testing.T) (ctx context.Context, cancel context.CancelFunc, egrp *errgroup.Group) {
	if deadline, ok := t.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ictx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ictx)
	}
	egrp, ctx = errgroup.WithContext(ctx)
	return
}

// InitClient resets the global configuration to the client defaults plus
// overrides, with retry delays short enough for unit tests and no
// credentials or caches leaking in from the user's environment.
func InitClient(t *testing.T, overrides map[string]interface{}) {
	param.Reset()
	config.ResetTransport()
	config.SetClientDefaults(viper.GetViper())

	settings := map[string]interface{}{
		param.Client_CertFile.GetName():      "",
		param.Client_Token.GetName():         "",
		param.Client_RetryDelay.GetName():    10 * time.Millisecond,
		param.Client_MaxRetryDelay.GetName(): 40 * time.Millisecond,
		param.Client_MaxRetryTime.GetName():  time.Second,
		param.Client_MD5CacheFile.GetName():  filepath.Join(t.TempDir(), "md5_cache.db"),
	}
	for key, value := range overrides {
		settings[key] = value
	}
	require.NoError(t, param.MultiSet(settings))

	t.Cleanup(func() {
		param.Reset()
		config.ResetTransport()
	})
}

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

package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/opencadc/govos/param"
)

var validate = validator.New()

// findFieldByTag searches a struct for the field whose tag has the given
// value, so viper keys can be checked against param.Config.
func findFieldByTag(t reflect.Type, tagKey, tagValue string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get(tagKey) == tagValue {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

// validateConfigKeys returns the configured keys that param.Config has no
// field for.  Keys below a map field (Client.ResourceAliases.arc) are known.
func validateConfigKeys() []string {
	keys := viper.AllKeys()

	// Environment variables only show up in AllKeys once bound
	for _, env := range os.Environ() {
		name, _, _ := strings.Cut(env, "=")
		if rest, ok := strings.CutPrefix(name, EnvPrefix+"_"); ok && rest != "CONFIG_FILE" {
			keys = append(keys, strings.ReplaceAll(strings.ToLower(rest), "_", "."))
		}
	}

	configType := reflect.TypeOf(param.Config{})
	unknown := map[string]bool{}
	for _, key := range keys {
		currentType := configType
		for _, part := range strings.Split(key, ".") {
			field, present := findFieldByTag(currentType, "mapstructure", part)
			if !present {
				unknown[key] = true
				break
			}
			if field.Type.Kind() != reflect.Struct {
				break
			}
			currentType = field.Type
		}
	}

	result := make([]string, 0, len(unknown))
	for key := range unknown {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

// validateConfig checks the decoded configuration against its struct tags.
func validateConfig(cfg *param.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}
